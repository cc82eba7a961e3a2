// Package pricefeed fetches USD token prices from a CoinGecko-style API.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/copyplan"
	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/logging"
)

const apiKeyHeader = "x-cg-pro-api-key"

type Config struct {
	BaseURL    string        `yaml:"base_url"`
	Platform   string        `yaml:"platform"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

type Client struct {
	http     *resty.Client
	platform string
	log      logrus.FieldLogger
}

func New(cfg Config, log logrus.FieldLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.RetryCount
	if retries <= 0 {
		retries = 3
	}
	platform := cfg.Platform
	if platform == "" {
		platform = "ethereum"
	}

	hc := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		hc.SetHeader(apiKeyHeader, cfg.APIKey)
	}
	return &Client{http: hc, platform: platform, log: logging.OrStandard(log)}
}

// Prices returns USD prices for tokens. Tokens the API does not know are
// left out so the planner reports them as missing.
func (c *Client) Prices(ctx context.Context, tokens []common.Address) (copyplan.Prices, error) {
	out := make(copyplan.Prices, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}
	addrs := make([]string, len(tokens))
	for i, t := range tokens {
		addrs[i] = strings.ToLower(t.Hex())
	}

	var body map[string]map[string]decimal.Decimal
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetPathParam("platform", c.platform).
		SetQueryParam("contract_addresses", strings.Join(addrs, ",")).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&body).
		Get("/simple/token_price/{platform}")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Wrap(faults.Provider, "token prices", errors.Wrap(err, "price request"))
	}
	if !resp.IsSuccess() {
		return nil, statusFault(resp)
	}

	for _, t := range tokens {
		entry, ok := body[strings.ToLower(t.Hex())]
		if !ok {
			c.log.WithField("token", t.Hex()).Warn("no price returned")
			continue
		}
		usd, ok := entry["usd"]
		if !ok {
			c.log.WithField("token", t.Hex()).Warn("no usd price returned")
			continue
		}
		out[t] = usd
	}
	return out, nil
}

func statusFault(resp *resty.Response) error {
	kind := faults.Internal
	if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500 {
		kind = faults.Provider
	}
	msg := strings.TrimSpace(string(resp.Body()))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return faults.Wrap(kind, "token prices", errors.Errorf("http %d: %s", resp.StatusCode(), msg))
}

// Snapshot fetches prices from the API and decimals from the token
// contracts, the two lookups the planner needs beside balances.
func (c *Client) Snapshot(ctx context.Context, caller chain.Caller, tokens []common.Address) (copyplan.Prices, copyplan.Decimals, error) {
	prices, err := c.Prices(ctx, tokens)
	if err != nil {
		return nil, nil, err
	}
	decimals := make(copyplan.Decimals, len(tokens))
	for _, t := range tokens {
		d, err := chain.Decimals(ctx, caller, t)
		if err != nil {
			return nil, nil, fmt.Errorf("decimals of %s: %w", t.Hex(), err)
		}
		decimals[t] = d
	}
	return prices, decimals, nil
}

// ParsePrices reads a static price table: a JSON object from token address
// to USD price, given as a number or a string.
func ParsePrices(data []byte) (copyplan.Prices, error) {
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prices: %w", err)
	}
	out := make(copyplan.Prices, len(raw))
	for k, v := range raw {
		if !common.IsHexAddress(k) {
			return nil, fmt.Errorf("parse prices: invalid address %q", k)
		}
		out[common.HexToAddress(k)] = v
	}
	return out, nil
}
