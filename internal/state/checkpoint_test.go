package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	router = common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
	donorA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	donorB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "ckpt.json")

	_, ok, err := Load(path)
	require.NoError(t, err)
	assert.False(t, ok)

	ckpt := NewCheckpoint(1, router, []common.Address{donorB, donorA})
	ckpt.LastProcessedBlock = 42
	require.NoError(t, Save(path, ckpt))

	got, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ckpt, got)
	assert.Equal(t, []string{donorA.Hex(), donorB.Hex()}, got.Donors)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCompatible(t *testing.T) {
	base := NewCheckpoint(1, router, []common.Address{donorA, donorB})
	assert.True(t, base.Compatible(NewCheckpoint(1, router, []common.Address{donorB, donorA})))
	assert.False(t, base.Compatible(NewCheckpoint(137, router, []common.Address{donorA, donorB})))
	assert.False(t, base.Compatible(NewCheckpoint(1, donorA, []common.Address{donorA, donorB})))
	assert.False(t, base.Compatible(NewCheckpoint(1, router, []common.Address{donorA})))
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, _, err := Load(path)
	assert.Error(t, err)

	_, ok, err := Load("")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, Save("", Checkpoint{}))
}
