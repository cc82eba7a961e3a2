package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dex-gocopy/internal/audit"
	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/copyplan"
	"dex-gocopy/internal/ethutil"
	"dex-gocopy/internal/heads"
	"dex-gocopy/internal/pricefeed"
	"dex-gocopy/internal/swapparse"
	"dex-gocopy/internal/watch"
)

func watchCmd(a *app) *cobra.Command {
	var (
		followerWallet string
		tokensRaw      string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow donor wallets and report (and optionally plan for) their swaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wc := a.cfg.Watch
			if len(wc.Donors) == 0 {
				return fmt.Errorf("no donors configured (watch.donors or DONOR_ADDRESSES)")
			}
			if wc.ChainID != 0 && chainID == 0 {
				chainID = wc.ChainID
			}
			ch, client, err := a.client()
			if err != nil {
				return err
			}
			if ch.Router == (common.Address{}) {
				return fmt.Errorf("chain %d has no router configured", ch.ID)
			}
			tr, err := a.tracker(client)
			if err != nil {
				return err
			}
			parser, err := a.parser(ch)
			if err != nil {
				return err
			}
			tokens, err := ethutil.ParseAddressList(tokensRaw)
			if err != nil {
				return fmt.Errorf("--tokens: %w", err)
			}

			out := audit.New(wc.OutFile)
			defer out.Close()

			handle := func(context.Context, *swapparse.Result) error { return nil }
			if followerWallet != "" {
				follower, err := ethutil.ParseAddress(followerWallet)
				if err != nil {
					return fmt.Errorf("--follower-wallet: %w", err)
				}
				m := &mirror{
					client:   client,
					prices:   pricefeed.New(a.cfg.Prices, a.log),
					planner:  copyplan.NewPlanner(copyplan.WithMinRatioDelta(a.cfg.Planner.MinRatioDelta), copyplan.WithLogger(a.log), copyplan.WithMetrics(a.metrics)),
					follower: follower,
					tokens:   tokens,
					audit:    out,
					log:      a.log,
				}
				handle = m.handle
			}

			opts := []watch.Option{
				watch.WithLogger(a.log),
				watch.WithMetrics(a.metrics),
				watch.WithAudit(out),
			}
			if ch.WSURL != "" {
				nums, errs := heads.Start(ctx, ch.WSURL, heads.Options{})
				go func() {
					for err := range errs {
						a.log.WithError(err).Warn("head subscription")
					}
				}()
				opts = append(opts, watch.WithHeads(nums))
			}

			w, err := watch.New(watch.Config{
				ChainID:          ch.ID,
				Router:           ch.Router,
				Donors:           wc.Donors,
				Confirmations:    a.cfg.Tracker.Confirmations,
				StartBlock:       wc.StartBlock,
				CheckpointFile:   wc.CheckpointFile,
				Interval:         wc.Interval,
				MaxBlocksPerPoll: wc.MaxBlocksPerPoll,
				AwaitAttempts:    a.cfg.Tracker.MaxAttempts,
			}, client, tr, parser, handle, opts...)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&followerWallet, "follower-wallet", "", "Plan mirror trades for this vault after each donor swap")
	cmd.Flags().StringVar(&tokensRaw, "tokens", "", "Extra tokens to include in mirror plans")
	return cmd
}

// mirror plans a follower rebalance after each donor swap.
type mirror struct {
	client   *chain.PooledClient
	prices   *pricefeed.Client
	planner  *copyplan.Planner
	follower common.Address
	tokens   []common.Address
	audit    *audit.Writer
	log      logrus.FieldLogger
}

func (m *mirror) handle(ctx context.Context, res *swapparse.Result) error {
	tokens := ethutil.SortedAddresses(append(append([]common.Address(nil), m.tokens...), res.TokenIn, res.TokenOut))
	tokens = dedupe(tokens)

	donor, err := chain.Balances(ctx, m.client, res.Caller, tokens)
	if err != nil {
		return fmt.Errorf("donor balances: %w", err)
	}
	follower, err := chain.Balances(ctx, m.client, m.follower, tokens)
	if err != nil {
		return fmt.Errorf("follower balances: %w", err)
	}
	prices, decimals, err := m.prices.Snapshot(ctx, m.client, tokens)
	if err != nil {
		return err
	}
	plan, err := m.planner.Build(copyplan.Balances(donor), copyplan.Balances(follower), prices, decimals)
	if err != nil {
		m.log.WithError(err).WithField("tx", res.Hash.Hex()).Warn("no mirror plan")
		return nil
	}
	if _, err := m.audit.Write(audit.KindPlan, plan); err != nil {
		m.log.WithError(err).Warn("audit write failed")
	}
	m.log.WithFields(logrus.Fields{"tx": res.Hash.Hex(), "plan": plan.ID, "entries": len(plan.Entries)}).Info("mirror plan")
	return nil
}

func dedupe(sorted []common.Address) []common.Address {
	out := sorted[:0]
	for i, a := range sorted {
		if i == 0 || a != sorted[i-1] {
			out = append(out, a)
		}
	}
	return out
}
