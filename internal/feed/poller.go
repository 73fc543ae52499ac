// Package feed fetches the market data shown on the ChoclChain dashboard and
// keeps it fresh.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller keeps the most recent value returned by a fetch function, refreshing
// on a fixed interval or on demand. A failed fetch never discards a value
// that was fetched successfully earlier.
type Poller[T any] struct {
	name     string
	fetch    func(context.Context) (T, error)
	interval time.Duration

	refresh chan struct{}
	updates chan struct{}

	mu      sync.RWMutex
	value   T
	have    bool
	err     error
	updated time.Time
}

// NewPoller creates a poller named name (for logs) around fetch.
func NewPoller[T any](name string, interval time.Duration, fetch func(context.Context) (T, error)) *Poller[T] {
	return &Poller[T]{
		name:     name,
		fetch:    fetch,
		interval: interval,
		refresh:  make(chan struct{}, 1),
		updates:  make(chan struct{}, 1),
	}
}

// Run fetches immediately, then again on every tick and Refresh, until ctx
// is cancelled.
func (p *Poller[T]) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-p.refresh:
			ticker.Reset(p.interval)
		}
		p.Poll(ctx)
	}
}

// Refresh asks Run to fetch now. Requests made while one is pending coalesce.
func (p *Poller[T]) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Poll performs one fetch and records the outcome.
func (p *Poller[T]) Poll(ctx context.Context) {
	v, err := p.fetch(ctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if err != nil {
		if p.have {
			slog.Warn("[FEED] fetch failed, keeping last value", "feed", p.name, "error", err)
		} else {
			slog.Warn("[FEED] fetch failed", "feed", p.name, "error", err)
			p.err = err
		}
	} else {
		p.value, p.have, p.err = v, true, nil
		p.updated = time.Now()
		slog.Debug("[FEED] updated", "feed", p.name)
	}
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// Latest returns the last good value and when it was fetched. err is
// non-nil only while no fetch has succeeded yet.
func (p *Poller[T]) Latest() (v T, updated time.Time, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value, p.updated, p.err
}

// Ready reports whether a value has been fetched.
func (p *Poller[T]) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.have
}

// Updates signals after each poll. Signals coalesce if not consumed.
func (p *Poller[T]) Updates() <-chan struct{} { return p.updates }
