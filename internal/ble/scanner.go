package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scanner runs time-boxed discoveries for a peripheral by advertised name.
// Only one discovery is active at a time.
type Scanner struct {
	adapter Adapter

	mu     sync.Mutex
	gen    uint64
	active *scan // nil once the current scan has settled
	last   *scan // most recent scan, settled or not
}

type scan struct {
	gen    uint64
	cancel context.CancelFunc
	timer  *time.Timer
	result chan scanResult // capacity 1; written once by the winning settle
	done   chan struct{}   // closed when the adapter's discovery has returned
}

type scanResult struct {
	peripheral Peripheral
	err        error
}

// NewScanner creates a Scanner on top of adapter.
func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{adapter: adapter}
}

// FindByName discovers the first peripheral whose primary or local name
// equals name exactly. It fails with ErrAdapterUnavailable if the radio is
// off, ErrNotFound once timeout elapses, *AdapterError on a transport
// failure, and ctx.Err() if ctx ends first. Discovery is stopped before
// FindByName returns.
func (s *Scanner) FindByName(ctx context.Context, name string, timeout time.Duration) (Peripheral, error) {
	on, err := s.adapter.PoweredOn(ctx)
	if err != nil {
		return Peripheral{}, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	if !on {
		return Peripheral{}, ErrAdapterUnavailable
	}

	// Settling the prior scan and installing this one happen under a single
	// lock so concurrent callers cannot both see an idle scanner.
	scanCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if prev := s.active; prev != nil {
		s.active = nil
		prev.finish(scanResult{err: ErrScanAborted})
	}
	prior := s.last
	s.gen++
	sc := &scan{
		gen:    s.gen,
		cancel: cancel,
		result: make(chan scanResult, 1),
		done:   make(chan struct{}),
	}
	s.active = sc
	s.last = sc
	sc.timer = time.AfterFunc(timeout, func() {
		if s.settle(sc.gen, scanResult{err: ErrNotFound}) {
			slog.Info("[BLE] scan timed out", "name", name, "timeout", timeout)
		}
	})
	s.mu.Unlock()

	slog.Debug("[BLE] scan started", "name", name, "gen", sc.gen)

	go func() {
		defer close(sc.done)
		// Discoveries run one after another: wait for the prior one to
		// return, and skip ours if it was superseded in the meantime.
		if prior != nil {
			<-prior.done
		}
		if scanCtx.Err() != nil {
			return
		}
		err := s.adapter.Scan(scanCtx, func(adv Advertisement) {
			if adv.Name != name && adv.LocalName != name {
				return
			}
			p := Peripheral{Address: adv.Address, Name: name, RSSI: adv.RSSI}
			if s.settle(sc.gen, scanResult{peripheral: p}) {
				slog.Info("[BLE] found device", "name", name, "address", adv.Address, "rssi", adv.RSSI)
			}
		})
		if err != nil {
			s.settle(sc.gen, scanResult{err: &AdapterError{Err: err}})
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		s.settle(sc.gen, scanResult{err: ctx.Err()})
	})
	defer stop()

	r := <-sc.result
	<-sc.done
	return r.peripheral, r.err
}

// Stop ends the active discovery, if any, and waits for it to wind down.
// The pending FindByName call returns ErrScanAborted.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if sc := s.active; sc != nil {
		s.active = nil
		sc.finish(scanResult{err: ErrScanAborted})
	}
	last := s.last
	s.mu.Unlock()
	if last != nil {
		<-last.done
	}
}

// settle resolves scan gen with r. Only the first call for the current
// generation has any effect; it reports whether this call won.
func (s *Scanner) settle(gen uint64, r scanResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.active
	if sc == nil || sc.gen != gen {
		return false
	}
	s.active = nil
	sc.finish(r)
	return true
}

// finish must be called with s.mu held, after sc was removed from active.
// None of it blocks: result has room for exactly this one value.
func (sc *scan) finish(r scanResult) {
	sc.timer.Stop()
	sc.cancel()
	sc.result <- r
}
