package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dex-gocopy/internal/routestore"
	"dex-gocopy/internal/swapparse"
	"dex-gocopy/internal/swappath"
)

// readRoute accepts a route as tagged JSON or as encoded hex.
func readRoute(s string) (swappath.Route, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		return swappath.UnmarshalRoute([]byte(s))
	}
	return swappath.DecodeHex(s)
}

func openRouteStore(a *app) (*routestore.Store, error) {
	return routestore.Open(a.cfg.Store.RoutesDB)
}

func routeCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "route",
		Short: "Encode, decode, invert and store swap routes",
	}

	encode := &cobra.Command{
		Use:   "encode <route-json>",
		Short: "Encode a JSON route to hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := swappath.UnmarshalRoute([]byte(args[0]))
			if err != nil {
				return err
			}
			h, err := swappath.EncodeHex(r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}

	decode := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a hex route to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := swappath.DecodeHex(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}

	invert := &cobra.Command{
		Use:   "invert <route>",
		Short: "Reverse a multi-hop route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readRoute(args[0])
			if err != nil {
				return err
			}
			m, ok := r.(swappath.MultiHopV3)
			if !ok {
				return fmt.Errorf("only %s routes can be inverted, got %s", swappath.KindMultiHopV3, r.Kind())
			}
			return printJSON(cmd.OutOrStdout(), swappath.Invert(m))
		},
	}

	var (
		form      string
		swapIndex int
	)
	save := &cobra.Command{
		Use:   "save <name> <route|tx-hash>",
		Short: "Store a route, or a transaction to re-derive it from",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRouteStore(a)
			if err != nil {
				return err
			}
			defer store.Close()

			name, value := args[0], args[1]
			if swappath.Form(form) == swappath.FormTx {
				hash, err := parseHash(value)
				if err != nil {
					return err
				}
				return store.Save(cmd.Context(), name, swappath.StoreTx(hash, swapIndex))
			}
			r, err := readRoute(value)
			if err != nil {
				return err
			}
			return store.SaveRoute(cmd.Context(), name, r, swappath.Form(form))
		},
	}
	save.Flags().StringVar(&form, "form", string(swappath.FormJSON), "Storage form: json, hex or tx")
	save.Flags().IntVar(&swapIndex, "swap-index", 0, "Which swap of the transaction (form tx)")

	load := &cobra.Command{
		Use:   "load <name>",
		Short: "Load a stored route; transaction references are re-parsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRouteStore(a)
			if err != nil {
				return err
			}
			defer store.Close()

			stored, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			var resolver swappath.TxRouteResolver
			if stored.Form == swappath.FormTx {
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
				resolver = &swapparse.RouteResolver{
					Tracker:       tr,
					Parser:        p,
					Confirmations: a.cfg.Tracker.Confirmations,
					PollInterval:  a.cfg.Tracker.PollInterval,
					MaxAttempts:   a.cfg.Tracker.MaxAttempts,
				}
			}
			r, err := swappath.Load(ctx, stored, resolver)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRouteStore(a)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}

	root.AddCommand(encode, decode, invert, save, load, list)
	return root
}
