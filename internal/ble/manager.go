package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/choclchain-setup/internal/ble/protocol"
)

// Manager owns the single active connection to a provisioning peripheral.
// Connecting to a new peripheral tears down the previous one first.
type Manager struct {
	adapter  Adapter
	identity Identity

	mu     sync.Mutex
	active *ActiveConnection
}

// NewManager creates a connection manager for the peripheral described by identity.
func NewManager(adapter Adapter, identity Identity) *Manager {
	return &Manager{adapter: adapter, identity: identity}
}

// ActiveConnection is a handle to an established link. It must not be used
// after it has been passed to Disconnect.
type ActiveConnection struct {
	peripheral Peripheral
	conn       Connection
	services   []Service
	chars      map[string]Characteristic // keyed by lowercase UUID

	mu     sync.Mutex
	sub    *Subscription
	closed bool

	lost     chan struct{}
	lostOnce sync.Once
}

// Peripheral returns the device this connection is attached to.
func (c *ActiveConnection) Peripheral() Peripheral { return c.peripheral }

// Services returns the services found during capability discovery.
func (c *ActiveConnection) Services() []Service { return c.services }

// Lost is closed when the link drops or is torn down.
func (c *ActiveConnection) Lost() <-chan struct{} { return c.lost }

func (c *ActiveConnection) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

// Subscription is a live notification registration on one characteristic.
type Subscription struct {
	conn    *ActiveConnection
	char    Characteristic
	onValue func(string)

	mu        sync.Mutex
	cancelled bool
}

// Cancel stops delivery and disables notifications on the characteristic.
// It is safe to call more than once.
func (s *Subscription) Cancel() {
	if !s.stop() {
		return
	}
	s.conn.mu.Lock()
	current := s.conn.sub == s
	if current {
		s.conn.sub = nil
	}
	s.conn.mu.Unlock()
	if current {
		if err := s.char.Unsubscribe(); err != nil {
			slog.Debug("[BLE] unsubscribe failed", "error", err)
		}
	}
}

// stop marks the subscription cancelled, waiting out any delivery in
// progress. It reports whether this call did the cancelling.
func (s *Subscription) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.cancelled = true
	return true
}

func (s *Subscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	text, err := protocol.Text(payload)
	if err != nil {
		slog.Debug("[BLE] dropping malformed notification", "error", err)
		return
	}
	s.onValue(text)
}

// Connect establishes a link to p within timeout and discovers all of its
// services and characteristics. It fails with ErrConnectTimeout or
// *ConnectError; the three provisioning characteristics must be present.
func (m *Manager) Connect(ctx context.Context, p Peripheral, timeout time.Duration) (*ActiveConnection, error) {
	m.mu.Lock()
	prev := m.active
	m.mu.Unlock()
	if prev != nil {
		m.Disconnect(prev)
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Debug("[BLE] connecting", "address", p.Address, "timeout", timeout)
	conn, err := m.adapter.Connect(connectCtx, p.Address)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("ble: connect to %s: %w", p.Address, ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
		default:
			return nil, &ConnectError{Reason: "link to " + p.Address, Err: err}
		}
	}

	services, err := conn.DiscoverServices()
	if err != nil {
		_ = conn.Disconnect()
		return nil, &ConnectError{Reason: "discover services", Err: err}
	}

	ac := &ActiveConnection{
		peripheral: p,
		conn:       conn,
		services:   services,
		chars:      make(map[string]Characteristic),
		lost:       make(chan struct{}),
	}
	for _, svc := range services {
		if !strings.EqualFold(svc.UUID, m.identity.ServiceUUID) {
			continue
		}
		for _, ch := range svc.Characteristics {
			ac.chars[strings.ToLower(ch.UUID())] = ch
		}
	}
	for _, ch := range []Channel{ChannelSSID, ChannelPassphrase, ChannelStatus} {
		uuid := m.identity.charUUID(ch)
		if _, ok := ac.chars[strings.ToLower(uuid)]; !ok {
			_ = conn.Disconnect()
			return nil, &ConnectError{Reason: fmt.Sprintf("%s characteristic %s not found", ch, uuid)}
		}
	}

	conn.OnDisconnect(func() {
		slog.Warn("[BLE] link lost", "address", p.Address)
		m.dropped(ac)
	})

	// Another Connect may have installed its link while this one was
	// dialing; at most one link stays up.
	m.mu.Lock()
	displaced := m.active
	m.active = ac
	m.mu.Unlock()
	if displaced != nil {
		slog.Debug("[BLE] releasing displaced connection", "address", displaced.peripheral.Address)
		m.Disconnect(displaced)
	}

	slog.Info("[BLE] connected", "address", p.Address, "services", len(services))
	return ac, nil
}

// Active returns the current connection, or nil.
func (m *Manager) Active() *ActiveConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// characteristic resolves ch on c, failing with ErrNotConnected if c is no
// longer the live connection.
func (m *Manager) characteristic(c *ActiveConnection, ch Channel) (Characteristic, error) {
	if c == nil {
		return nil, ErrNotConnected
	}
	m.mu.Lock()
	current := m.active == c
	m.mu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !current || closed {
		return nil, ErrNotConnected
	}

	char, ok := c.chars[strings.ToLower(m.identity.charUUID(ch))]
	if !ok {
		return nil, fmt.Errorf("ble: no characteristic for channel %s: %w", ch, ErrNotConnected)
	}
	return char, nil
}

// Write performs an acknowledged write to ch. data is in wire form, as
// produced by protocol.Encode; the characteristic receives the decoded UTF-8
// bytes. It returns once the peripheral has confirmed receipt, or fails with
// ErrNotConnected or *WriteError.
func (m *Manager) Write(ctx context.Context, c *ActiveConnection, ch Channel, data []byte) error {
	char, err := m.characteristic(c, ch)
	if err != nil {
		return err
	}
	raw, err := protocol.FromWire(data)
	if err != nil {
		return &WriteError{Channel: ch, Err: err}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- char.Write(raw)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return &WriteError{Channel: ch, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &WriteError{Channel: ch, Err: ctx.Err()}
	}
}

// Subscribe registers onValue for notifications on ch, replacing any earlier
// subscription on c. Values that are not UTF-8 text are dropped. Once Subscribe returns, a replaced subscription's callback is
// never invoked again. onValue must not call back into the Manager.
func (m *Manager) Subscribe(c *ActiveConnection, ch Channel, onValue func(string)) (*Subscription, error) {
	char, err := m.characteristic(c, ch)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{conn: c, char: char, onValue: onValue}

	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	if err := char.Subscribe(sub.deliver); err != nil {
		c.mu.Lock()
		if c.sub == sub {
			c.sub = nil
		}
		c.mu.Unlock()
		sub.stop()
		return nil, fmt.Errorf("ble: subscribe %s: %w", ch, err)
	}
	return sub, nil
}

// Disconnect cancels any live subscription and tears down c. It is
// idempotent and never fails; transport errors are logged and dropped.
func (m *Manager) Disconnect(c *ActiveConnection) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.stop()
		if err := sub.char.Unsubscribe(); err != nil {
			slog.Debug("[BLE] unsubscribe during teardown failed", "error", err)
		}
	}

	m.mu.Lock()
	if m.active == c {
		m.active = nil
	}
	m.mu.Unlock()

	if err := c.conn.Disconnect(); err != nil {
		slog.Debug("[BLE] disconnect failed", "address", c.peripheral.Address, "error", err)
	}
	c.markLost()
	slog.Info("[BLE] disconnected", "address", c.peripheral.Address)
}

// dropped handles a peripheral-initiated disconnect.
func (m *Manager) dropped(c *ActiveConnection) {
	c.mu.Lock()
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.stop()
	}

	m.mu.Lock()
	if m.active == c {
		m.active = nil
	}
	m.mu.Unlock()
	c.markLost()
}

// Close releases the active connection, if any.
func (m *Manager) Close() {
	m.Disconnect(m.Active())
}
