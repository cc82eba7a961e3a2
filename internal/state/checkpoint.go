// Package state persists the donor watcher's scan position.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dex-gocopy/internal/ethutil"
)

type Checkpoint struct {
	ChainID uint64 `json:"chain_id"`
	Router  string `json:"router"`
	// Donors is sorted; a checkpoint only resumes a scan over the same set.
	Donors []string `json:"donors"`

	LastProcessedBlock uint64 `json:"last_processed_block"`
}

func NewCheckpoint(chainID uint64, router common.Address, donors []common.Address) Checkpoint {
	sorted := ethutil.SortedAddresses(donors)
	hexes := make([]string, len(sorted))
	for i, d := range sorted {
		hexes[i] = d.Hex()
	}
	return Checkpoint{ChainID: chainID, Router: router.Hex(), Donors: hexes}
}

// Compatible reports whether c was written by a scan of the same chain,
// router and donor set as want.
func (c Checkpoint) Compatible(want Checkpoint) bool {
	if c.ChainID != want.ChainID || !strings.EqualFold(c.Router, want.Router) || len(c.Donors) != len(want.Donors) {
		return false
	}
	for i := range c.Donors {
		if !strings.EqualFold(c.Donors[i], want.Donors[i]) {
			return false
		}
	}
	return true
}

// Load returns the checkpoint at path; a missing file or blank path reports
// false.
func Load(path string) (Checkpoint, bool, error) {
	if path == "" {
		return Checkpoint{}, false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return ckpt, true, nil
}

// Save writes through a temp file and rename so a crash never leaves a
// truncated checkpoint.
func Save(path string, ckpt Checkpoint) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
