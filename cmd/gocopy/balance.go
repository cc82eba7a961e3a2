package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/ethutil"
)

type tokenBalance struct {
	Token    string `json:"token"`
	Raw      string `json:"raw"`
	Decimals uint8  `json:"decimals"`
	Amount   string `json:"amount"`
}

func balanceCmd(a *app) *cobra.Command {
	var addrFlag, tokensRaw string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a wallet's ERC-20 balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(addrFlag) == "" {
				return fmt.Errorf("--address is required")
			}
			owner, err := ethutil.ParseAddress(addrFlag)
			if err != nil {
				return fmt.Errorf("invalid --address: %w", err)
			}
			tokens, err := ethutil.ParseAddressList(tokensRaw)
			if err != nil {
				return fmt.Errorf("--tokens: %w", err)
			}
			if len(tokens) == 0 {
				return fmt.Errorf("--tokens is required")
			}
			_, client, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			raw, err := chain.Balances(ctx, client, owner, tokens)
			if err != nil {
				return err
			}
			out := make([]tokenBalance, 0, len(tokens))
			for _, token := range ethutil.SortedAddresses(tokens) {
				dec, err := chain.Decimals(ctx, client, token)
				if err != nil {
					return err
				}
				out = append(out, tokenBalance{
					Token:    token.Hex(),
					Raw:      raw[token].String(),
					Decimals: dec,
					Amount:   decimal.NewFromBigInt(raw[token], -int32(dec)).String(),
				})
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"owner": owner.Hex(), "balances": out})
		},
	}
	cmd.Flags().StringVar(&addrFlag, "address", "", "Wallet address to check")
	cmd.Flags().StringVar(&tokensRaw, "tokens", "", "Comma-separated token addresses")
	return cmd
}
