package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"dex-gocopy/internal/audit"
	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/copyplan"
	"dex-gocopy/internal/ethutil"
	"dex-gocopy/internal/pricefeed"
)

type planInputs struct {
	donorFile, followerFile     string
	donorWallet, followerWallet string
	tokens                      string
	pricesFile, decimalsFile    string
}

func planCmd(a *app) *cobra.Command {
	var (
		in        planInputs
		auditFile string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the trades that align a follower portfolio with a donor's",
		Long: "Balances come from JSON files ({\"0xtoken\": \"raw amount\"}) or are read on-chain " +
			"for --donor-wallet/--follower-wallet over --tokens. Prices and decimals come from files " +
			"or from the price API and token contracts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			plan, err := a.buildPlan(ctx, in)
			if err != nil {
				return err
			}
			w := audit.New(auditFile)
			defer w.Close()
			if _, err := w.Write(audit.KindPlan, plan); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.donorFile, "donor", "", "Donor balances JSON file")
	f.StringVar(&in.followerFile, "follower", "", "Follower balances JSON file")
	f.StringVar(&in.donorWallet, "donor-wallet", "", "Read donor balances on-chain for this address")
	f.StringVar(&in.followerWallet, "follower-wallet", "", "Read follower balances on-chain for this address")
	f.StringVar(&in.tokens, "tokens", "", "Comma separated tokens for on-chain balances")
	f.StringVar(&in.pricesFile, "prices", "", "USD prices JSON file ({\"0xtoken\": 1.0})")
	f.StringVar(&in.decimalsFile, "decimals", "", "Token decimals JSON file ({\"0xtoken\": 18})")
	f.StringVar(&auditFile, "audit", "", "Append the plan to this JSONL file")
	return cmd
}

func (a *app) buildPlan(ctx context.Context, in planInputs) (*copyplan.Plan, error) {
	tokens, err := ethutil.ParseAddressList(in.tokens)
	if err != nil {
		return nil, fmt.Errorf("--tokens: %w", err)
	}
	var client *chain.PooledClient
	needChain := in.donorFile == "" || in.followerFile == "" || in.decimalsFile == ""
	if needChain {
		if _, client, err = a.client(); err != nil {
			return nil, err
		}
	}

	donor, err := a.balances(ctx, client, in.donorFile, in.donorWallet, tokens)
	if err != nil {
		return nil, fmt.Errorf("donor balances: %w", err)
	}
	follower, err := a.balances(ctx, client, in.followerFile, in.followerWallet, tokens)
	if err != nil {
		return nil, fmt.Errorf("follower balances: %w", err)
	}
	all := unionTokens(donor, follower)

	var prices copyplan.Prices
	if in.pricesFile != "" {
		b, err := os.ReadFile(in.pricesFile)
		if err != nil {
			return nil, err
		}
		if prices, err = pricefeed.ParsePrices(b); err != nil {
			return nil, err
		}
	} else if prices, err = pricefeed.New(a.cfg.Prices, a.log).Prices(ctx, all); err != nil {
		return nil, err
	}

	var decimals copyplan.Decimals
	if in.decimalsFile != "" {
		if decimals, err = readDecimals(in.decimalsFile); err != nil {
			return nil, err
		}
	} else {
		decimals = make(copyplan.Decimals, len(all))
		for _, t := range all {
			d, err := chain.Decimals(ctx, client, t)
			if err != nil {
				return nil, fmt.Errorf("decimals of %s: %w", t.Hex(), err)
			}
			decimals[t] = d
		}
	}

	planner := copyplan.NewPlanner(
		copyplan.WithMinRatioDelta(a.cfg.Planner.MinRatioDelta),
		copyplan.WithLogger(a.log),
		copyplan.WithMetrics(a.metrics),
	)
	return planner.Build(donor, follower, prices, decimals)
}

func (a *app) balances(ctx context.Context, client chain.Caller, file, wallet string, tokens []common.Address) (copyplan.Balances, error) {
	if file != "" {
		return readBalances(file)
	}
	if wallet == "" || len(tokens) == 0 {
		return nil, fmt.Errorf("need a balances file or a wallet with --tokens")
	}
	owner, err := ethutil.ParseAddress(wallet)
	if err != nil {
		return nil, err
	}
	raw, err := chain.Balances(ctx, client, owner, tokens)
	if err != nil {
		return nil, err
	}
	return copyplan.Balances(raw), nil
}

func readBalances(path string) (copyplan.Balances, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(copyplan.Balances, len(raw))
	for k, v := range raw {
		token, err := ethutil.ParseAddress(k)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		amount, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("%s: %s: invalid amount %q", path, k, v)
		}
		out[token] = amount
	}
	return out, nil
}

func readDecimals(path string) (copyplan.Decimals, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]uint8
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(copyplan.Decimals, len(raw))
	for k, v := range raw {
		token, err := ethutil.ParseAddress(k)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out[token] = v
	}
	return out, nil
}

func unionTokens(sets ...copyplan.Balances) []common.Address {
	seen := map[common.Address]struct{}{}
	var out []common.Address
	for _, s := range sets {
		for t := range s {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return ethutil.SortedAddresses(out)
}
