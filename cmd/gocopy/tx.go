package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"dex-gocopy/internal/audit"
	"dex-gocopy/internal/swappath"
	"dex-gocopy/internal/txtrack"
)

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func trackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "track <tx-hash>",
		Short: "Print the current status of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			_, client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.tracker(client)
			if err != nil {
				return err
			}
			o, err := tr.Track(cmd.Context(), hash)
			if err != nil {
				return err
			}
			out := map[string]any{"hash": o.Hash, "status": o.Status.String()}
			if o.Receipt != nil {
				out["block"] = o.Receipt.BlockNumber
				out["gas_used"] = o.Receipt.GasUsed
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func awaitCmd(a *app) *cobra.Command {
	var confirmations uint64
	cmd := &cobra.Command{
		Use:   "await <tx-hash>",
		Short: "Wait until a transaction is confirmed or the polling budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			_, client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.tracker(client)
			if err != nil {
				return err
			}
			if confirmations == 0 {
				confirmations = a.cfg.Tracker.Confirmations
			}
			t := a.cfg.Tracker
			receipt, err := tr.AwaitConfirmations(cmd.Context(), hash, confirmations, t.PollInterval, t.MaxAttempts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"hash":          hash,
				"status":        txtrack.StatusSuccessful.String(),
				"block":         receipt.BlockNumber,
				"confirmations": confirmations,
			})
		},
	}
	cmd.Flags().Uint64Var(&confirmations, "confirmations", 0, "Blocks to wait for (default: tracker.confirmations)")
	return cmd
}

func parseCmd(a *app) *cobra.Command {
	var (
		auditFile string
		saveAs    string
	)
	cmd := &cobra.Command{
		Use:   "parse <tx-hash>",
		Short: "Wait for a router transaction and print the swaps it made",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			ch, client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.tracker(client)
			if err != nil {
				return err
			}
			p, err := a.parser(ch)
			if err != nil {
				return err
			}

			t := a.cfg.Tracker
			if _, err := tr.AwaitConfirmations(ctx, hash, t.Confirmations, t.PollInterval, t.MaxAttempts); err != nil {
				return err
			}
			o, err := tr.Track(ctx, hash)
			if err != nil {
				return err
			}
			ready, err := o.Ready()
			if err != nil {
				return err
			}
			res, err := p.Parse(ready)
			if err != nil {
				return err
			}

			w := audit.New(auditFile)
			defer w.Close()
			if _, err := w.Write(audit.KindSwap, res); err != nil {
				return err
			}
			if saveAs != "" {
				store, err := openRouteStore(a)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Save(ctx, saveAs, swappath.StoreTx(hash, 0)); err != nil {
					return err
				}
				a.log.WithField("name", saveAs).Info("route saved as transaction reference")
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&auditFile, "audit", "", "Append the parsed swaps to this JSONL file")
	cmd.Flags().StringVar(&saveAs, "save-route", "", "Store the first swap's route under this name")
	return cmd
}
