package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Client reads the public mempool.space REST API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the API at baseURL, e.g. "https://mempool.space".
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Prices is the reply of /api/v1/prices.
type Prices struct {
	Time int64   `json:"time"`
	USD  float64 `json:"USD"`
	EUR  float64 `json:"EUR"`
	GBP  float64 `json:"GBP"`
}

// SatsPerDollar returns how many satoshis one US dollar buys, rounded.
func (p Prices) SatsPerDollar() int64 {
	if p.USD <= 0 {
		return 0
	}
	return int64(math.Round(1e8 / p.USD))
}

// Fees is the reply of /api/v1/fees/recommended, in sat/vB.
type Fees struct {
	Fastest  int `json:"fastestFee"`
	HalfHour int `json:"halfHourFee"`
	Hour     int `json:"hourFee"`
	Economy  int `json:"economyFee"`
	Minimum  int `json:"minimumFee"`
}

// Prices fetches current exchange rates.
func (c *Client) Prices(ctx context.Context) (Prices, error) {
	var p Prices
	if err := c.getJSON(ctx, "/api/v1/prices", &p); err != nil {
		return p, err
	}
	if p.USD <= 0 {
		return p, fmt.Errorf("feed: prices: missing USD rate")
	}
	return p, nil
}

// TipHeight fetches the height of the chain tip.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	var h int64
	err := c.getJSON(ctx, "/api/blocks/tip/height", &h)
	return h, err
}

// Fees fetches the recommended fee rates.
func (c *Client) Fees(ctx context.Context) (Fees, error) {
	var f Fees
	err := c.getJSON(ctx, "/api/v1/fees/recommended", &f)
	return f, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("feed: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("feed: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed: %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("feed: decoding %s: %w", path, err)
	}
	return nil
}
