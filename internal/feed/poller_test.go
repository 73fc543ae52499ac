package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedFetch returns the queued results in order, repeating the last one.
type scriptedFetch struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	v   int
	err error
}

func (s *scriptedFetch) fetch(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.results)-1)
	s.calls++
	return s.results[i].v, s.results[i].err
}

func (s *scriptedFetch) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPollKeepsLastGoodValue(t *testing.T) {
	f := &scriptedFetch{results: []fetchResult{
		{err: errors.New("offline")},
		{v: 7},
		{err: errors.New("HTTP 502")},
	}}
	p := NewPoller("test", time.Hour, f.fetch)
	ctx := context.Background()

	p.Poll(ctx)
	if _, _, err := p.Latest(); err == nil {
		t.Error("Latest() should report the error while no data exists")
	}
	if p.Ready() {
		t.Error("Ready() = true before any success")
	}

	p.Poll(ctx)
	v, updated, err := p.Latest()
	if err != nil || v != 7 {
		t.Fatalf("Latest() = %d, %v; want 7, nil", v, err)
	}
	if updated.IsZero() {
		t.Error("updated time should be set")
	}

	p.Poll(ctx)
	v, again, err := p.Latest()
	if err != nil || v != 7 {
		t.Errorf("Latest() after failure = %d, %v; want 7, nil", v, err)
	}
	if !again.Equal(updated) {
		t.Error("a failed fetch should not bump the updated time")
	}
}

func TestRunRefresh(t *testing.T) {
	f := &scriptedFetch{results: []fetchResult{{v: 1}}}
	p := NewPoller("test", time.Hour, f.fetch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-p.Updates():
	case <-time.After(time.Second):
		t.Fatal("no initial fetch")
	}

	p.Refresh()
	select {
	case <-p.Updates():
	case <-time.After(time.Second):
		t.Fatal("Refresh() did not trigger a fetch")
	}
	if n := f.count(); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop on cancel")
	}
}

func TestRunInterval(t *testing.T) {
	f := &scriptedFetch{results: []fetchResult{{v: 1}}}
	p := NewPoller("test", 10*time.Millisecond, f.fetch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for f.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("fetch calls = %d, want at least 3", f.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
