// Package display talks to the ChoclChain dashboard over its local HTTP API
// once the device has joined WiFi.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Page identifies one dashboard screen.
type Page int

const (
	PageBlockHeight Page = iota
	PagePrice
	PageMining
	PageSupply
	PageMempool
	PageLightning
)

var pageNames = [...]string{"Block Height", "Price", "Mining", "Supply", "Mempool", "Lightning"}

func (p Page) String() string {
	if !p.Valid() {
		return "Page " + strconv.Itoa(int(p))
	}
	return pageNames[p]
}

// Valid reports whether the dashboard has a screen numbered p.
func (p Page) Valid() bool { return p >= 0 && int(p) < len(pageNames) }

// Pages lists every screen in display order.
func Pages() []Page {
	out := make([]Page, len(pageNames))
	for i := range out {
		out[i] = Page(i)
	}
	return out
}

// ErrInvalidPage means the requested page number is outside 0-5.
var ErrInvalidPage = errors.New("display: no such page")

// StatusError reports a non-2xx response from the dashboard.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("display: %s: HTTP %d", e.Path, e.Code)
}

// Status is the dashboard's reply to GET /status.
type Status struct {
	Page Page `json:"page"`
}

// Client calls the dashboard's HTTP control API.
type Client struct {
	addr string
	http *http.Client
	base string // overrides "http://<addr>" in tests
}

// NewClient returns a client for the dashboard at addr, which must pass
// ValidateAddress. Each request is bounded by timeout.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	if err := ValidateAddress(addr); err != nil {
		return nil, err
	}
	return &Client{
		addr: addr,
		http: &http.Client{Timeout: timeout},
		base: "http://" + addr,
	}, nil
}

// Address returns the dashboard address.
func (c *Client) Address() string { return c.addr }

// Status fetches the page the dashboard is currently showing.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	body, err := c.get(ctx, "/status")
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, fmt.Errorf("display: decoding status: %w", err)
	}
	return st, nil
}

// SetPage switches the dashboard to page.
func (c *Client) SetPage(ctx context.Context, page Page) error {
	if !page.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPage, int(page))
	}
	if _, err := c.get(ctx, "/setpage?page="+strconv.Itoa(int(page))); err != nil {
		return err
	}
	slog.Info("[DISPLAY] page changed", "address", c.addr, "page", page)
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("display: building request: %w", err)
	}
	slog.Debug("[DISPLAY] request", "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("display: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("display: reading %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: path, Code: resp.StatusCode}
	}
	return body, nil
}
