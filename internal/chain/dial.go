package chain

import (
	"context"
	"math/rand"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/logging"
	"dex-gocopy/internal/observability"
)

type DialOptions struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Logger      logrus.FieldLogger
	Metrics     *observability.Metrics
}

func (o DialOptions) withDefaults() DialOptions {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	o.Logger = logging.OrStandard(o.Logger)
	return o
}

// Dial connects to rawURL and checks the connection by reading the head block.
// Failures back off exponentially with jitter until MaxAttempts is spent.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*EthClient, error) {
	opts = opts.withDefaults()
	log := opts.Logger.WithField("rpc", redactURL(rawURL))

	delay := opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ec, err := ethclient.DialContext(ctx, rawURL)
		if err == nil {
			c := NewEthClient(ec, opts.Metrics)
			_, headErr := c.BlockNumber(ctx)
			if headErr == nil {
				return c, nil
			}
			c.Close()
			err = errors.Wrap(headErr, "fetch head")
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}

		wait := Jitter(delay)
		log.WithError(err).WithField("attempt", attempt).Warnf("rpc connect failed, retrying in %s", wait)
		if err := SleepWithContext(ctx, wait); err != nil {
			return nil, err
		}
		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return nil, errors.Wrapf(lastErr, "dial %s after %d attempts", redactURL(rawURL), opts.MaxAttempts)
}

// EthDialer adapts Dial to the pool's DialFunc.
func EthDialer(rawURL string, opts DialOptions) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		c, err := Dial(ctx, rawURL, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Jitter spreads d by +/-20%.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 5
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int63n(int64(j*2)+1))
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redactURL drops path and query, where providers put API keys.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<rpc>"
	}
	return u.Scheme + "://" + u.Host
}
