package copyplan

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/logging"
	"dex-gocopy/internal/observability"
)

var (
	ErrMissingPriceOrDecimals = errors.New("missing price or decimals")
	ErrZeroTotalValue         = errors.New("follower portfolio has zero total value")
	ErrAmountOverflow         = errors.New("amount overflows uint256")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrNegativeBalance        = errors.New("negative balance")
)

const (
	// ratioPrecision is the number of fractional digits kept in ratio math.
	ratioPrecision = 36
	// amountRounding absorbs division artifacts before amounts are floored.
	amountRounding = 18
)

// DefaultMinRatioDelta is the share difference below which a token counts as
// balanced.
var DefaultMinRatioDelta = decimal.New(1, -9)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Planner builds copy-trade plans. The zero value is not usable; call
// NewPlanner.
type Planner struct {
	minDelta decimal.Decimal
	log      logrus.FieldLogger
	metrics  *observability.Metrics
}

type Option func(*Planner)

func WithMinRatioDelta(d decimal.Decimal) Option {
	return func(p *Planner) {
		if !d.IsNegative() {
			p.minDelta = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Planner) { p.log = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// NewPlanner returns a planner using DefaultMinRatioDelta unless overridden.
func NewPlanner(opts ...Option) *Planner {
	p := &Planner{minDelta: DefaultMinRatioDelta}
	for _, o := range opts {
		o(p)
	}
	p.log = logging.OrStandard(p.log)
	return p
}

// Build plans with the default planner.
func Build(donor, follower Balances, prices Prices, decimals Decimals) (*Plan, error) {
	return NewPlanner().Build(donor, follower, prices, decimals)
}

// position is one token's standing across both portfolios.
type position struct {
	token       common.Address
	decimals    uint8
	price       decimal.Decimal
	donorRaw    *big.Int
	followerRaw *big.Int
	delta       decimal.Decimal
}

func economic(err error) error { return faults.Wrap(faults.Economic, "copy plan", err) }

// Build matches the most overweight follower token against the most
// underweight one until no pair is left, largest imbalance first.
func (p *Planner) Build(donor, follower Balances, prices Prices, decimals Decimals) (*Plan, error) {
	positions, err := collect(donor, follower, prices, decimals)
	if err != nil {
		return nil, err
	}

	donorTotal := totalValue(positions, func(pos *position) *big.Int { return pos.donorRaw })
	followerTotal := totalValue(positions, func(pos *position) *big.Int { return pos.followerRaw })
	for _, pos := range positions {
		fr := share(value(pos.followerRaw, pos.decimals, pos.price), followerTotal)
		dr := share(value(pos.donorRaw, pos.decimals, pos.price), donorTotal)
		pos.delta = fr.Sub(dr)
	}

	plan := &Plan{ID: uuid.NewString(), DonorValue: donorTotal, FollowerValue: followerTotal}
	for {
		in, out := p.pickPair(positions)
		if in == nil || out == nil {
			break
		}
		if !followerTotal.IsPositive() {
			return nil, economic(ErrZeroTotalValue)
		}

		moved := decimal.Min(in.delta, out.delta.Neg())
		amountIn, err := rawAmount(followerTotal, moved, in)
		if err != nil {
			return nil, err
		}
		amountOut, err := rawAmount(followerTotal, moved, out)
		if err != nil {
			return nil, err
		}
		if amountIn.Cmp(in.followerRaw) > 0 {
			amountIn.Set(in.followerRaw)
		}

		in.delta = in.delta.Sub(moved)
		out.delta = out.delta.Add(moved)
		plan.Entries = append(plan.Entries, Entry{
			TokenIn:   in.token,
			TokenOut:  out.token,
			AmountIn:  amountIn,
			AmountOut: amountOut,
			Ratio:     moved,
		})
		p.log.WithFields(logrus.Fields{
			"plan":       plan.ID,
			"token_in":   in.token.Hex(),
			"token_out":  out.token.Hex(),
			"ratio":      moved.String(),
			"amount_in":  amountIn.String(),
			"amount_out": amountOut.String(),
		}).Debug("plan entry")
	}

	p.metrics.PlanBuilt(len(plan.Entries))
	return plan, nil
}

// pickPair returns the sell candidate with the largest positive delta and
// the buy candidate with the most negative one. Equal deltas go to the lower
// address.
func (p *Planner) pickPair(positions []*position) (in, out *position) {
	negMin := p.minDelta.Neg()
	for _, pos := range positions {
		if pos.delta.GreaterThan(p.minDelta) && pos.followerRaw.Sign() > 0 {
			if in == nil || pos.delta.GreaterThan(in.delta) {
				in = pos
			}
		}
		if pos.delta.LessThan(negMin) && pos.donorRaw.Sign() > 0 {
			if out == nil || pos.delta.LessThan(out.delta) {
				out = pos
			}
		}
	}
	return in, out
}

// collect validates inputs and returns one position per token of either
// map, sorted by address.
func collect(donor, follower Balances, prices Prices, decimals Decimals) ([]*position, error) {
	byToken := make(map[common.Address]*position, len(donor)+len(follower))
	add := func(side string, balances Balances, set func(*position, *big.Int)) error {
		for token, amount := range balances {
			if amount == nil {
				amount = new(big.Int)
			}
			if amount.Sign() < 0 {
				return economic(fmt.Errorf("%w: %s %s holds %v", ErrNegativeBalance, side, token.Hex(), amount))
			}
			pos, ok := byToken[token]
			if !ok {
				price, hasPrice := prices[token]
				dec, hasDec := decimals[token]
				if !hasPrice || !hasDec {
					return economic(fmt.Errorf("%w: %s", ErrMissingPriceOrDecimals, token.Hex()))
				}
				if price.IsNegative() {
					return economic(fmt.Errorf("%w: %s priced at %s", ErrInvalidPrice, token.Hex(), price))
				}
				pos = &position{token: token, decimals: dec, price: price, donorRaw: new(big.Int), followerRaw: new(big.Int)}
				byToken[token] = pos
			}
			set(pos, amount)
		}
		return nil
	}
	if err := add("donor", donor, func(pos *position, v *big.Int) { pos.donorRaw.Set(v) }); err != nil {
		return nil, err
	}
	if err := add("follower", follower, func(pos *position, v *big.Int) { pos.followerRaw.Set(v) }); err != nil {
		return nil, err
	}

	out := make([]*position, 0, len(byToken))
	for _, pos := range byToken {
		held := pos.donorRaw.Sign() > 0 || pos.followerRaw.Sign() > 0
		if held && !pos.price.IsPositive() {
			return nil, economic(fmt.Errorf("%w: held token %s priced at %s", ErrInvalidPrice, pos.token.Hex(), pos.price))
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].token[:], out[j].token[:]) < 0 })
	return out, nil
}

func value(raw *big.Int, dec uint8, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -int32(dec)).Mul(price)
}

func totalValue(positions []*position, raw func(*position) *big.Int) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(value(raw(pos), pos.decimals, pos.price))
	}
	return total
}

// share is v/total, or zero when the portfolio is empty.
func share(v, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return v.DivRound(total, ratioPrecision)
}

// rawAmount converts a share of the follower's value into base units of
// pos.token: 10^decimals * total * ratio / price, floored.
func rawAmount(total, ratio decimal.Decimal, pos *position) (*big.Int, error) {
	scaled := total.Mul(ratio).Shift(int32(pos.decimals))
	amount := scaled.DivRound(pos.price, ratioPrecision).Round(amountRounding).Floor().BigInt()
	if amount.Cmp(maxUint256) > 0 {
		return nil, economic(fmt.Errorf("%w: %s amount %s", ErrAmountOverflow, pos.token.Hex(), amount))
	}
	return amount, nil
}
