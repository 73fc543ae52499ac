// Package provision drives a ChoclChain device through discovery, connection
// and WiFi credential delivery. A Session owns all provisioning state and
// exposes it as immutable snapshots.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/choclchain-setup/internal/ble"
	"github.com/chaz8081/choclchain-setup/internal/ble/protocol"
)

var (
	// ErrPermissionDenied means the platform refused Bluetooth access.
	ErrPermissionDenied = errors.New("provision: bluetooth permission denied")
	// ErrNotConnected means a send was requested with no device connected.
	ErrNotConnected = errors.New("provision: not connected")
	// ErrSendInFlight means a previous send has not finished yet.
	ErrSendInFlight = errors.New("provision: send already in progress")
	// ErrClosed means the session loop has exited.
	ErrClosed = errors.New("provision: session closed")
)

// State is the connection phase of a Session.
type State int

const (
	Disconnected State = iota
	Scanning
	Connected
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Snapshot is a consistent view of a Session at one instant.
type Snapshot struct {
	State      State
	Device     ble.Peripheral // zero unless Connected
	Error      string         // last user-facing error, empty if none
	WifiStatus WifiStatus
	StatusAt   time.Time // when WifiStatus was last reported
	Sending    bool
}

// Finder locates the provisioning peripheral. *ble.Scanner implements it.
type Finder interface {
	FindByName(ctx context.Context, name string, timeout time.Duration) (ble.Peripheral, error)
}

// Link manages the connection to the peripheral. *ble.Manager implements it.
type Link interface {
	Connect(ctx context.Context, p ble.Peripheral, timeout time.Duration) (*ble.ActiveConnection, error)
	Write(ctx context.Context, c *ble.ActiveConnection, ch ble.Channel, data []byte) error
	Subscribe(c *ble.ActiveConnection, ch ble.Channel, onValue func(string)) (*ble.Subscription, error)
	Disconnect(c *ble.ActiveConnection)
}

// Gate confirms the runtime Bluetooth permissions. *permission.Gate implements it.
type Gate interface {
	EnsureGranted(ctx context.Context) bool
}

// Radio reports whether the Bluetooth radio is usable. ble.Adapter implements it.
type Radio interface {
	PoweredOn(ctx context.Context) (bool, error)
}

// Options tunes a Session.
type Options struct {
	DeviceName     string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultOptions returns the timeouts used by the stock setup flow.
func DefaultOptions() Options {
	return Options{
		DeviceName:     ble.DeviceName,
		ScanTimeout:    15 * time.Second,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Session is the provisioning state machine. Commands may be issued from any
// goroutine; they are applied in order by the loop started with Run.
type Session struct {
	gate   Gate
	radio  Radio
	finder Finder
	link   Link
	opts   Options

	events    chan event
	updates   chan Snapshot
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	base     context.Context
	gen      uint64 // bumped whenever a connection attempt starts or ends
	sendGen  uint64
	starting bool // preflight in progress
	work     context.Context
	cancel   context.CancelFunc
	conn     *ble.ActiveConnection
	attempt  string

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a Session. Call Run to start processing commands.
func New(gate Gate, radio Radio, finder Finder, link Link, opts Options) *Session {
	return &Session{
		gate:    gate,
		radio:   radio,
		finder:  finder,
		link:    link,
		opts:    opts,
		events:  make(chan event, 32),
		updates: make(chan Snapshot, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Updates delivers the latest snapshot after each change. Intermediate
// snapshots are dropped if the reader falls behind.
func (s *Session) Updates() <-chan Snapshot { return s.updates }

// Done is closed once Run has returned and every resource is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// StartScan begins discovery of the device. It is ignored unless the
// session is Disconnected.
func (s *Session) StartScan() { s.post(startScanCmd{}) }

// Disconnect abandons any scan, connection or send in progress.
func (s *Session) Disconnect() { s.post(disconnectCmd{}) }

// SendCredentials validates creds and, if a device is connected, starts
// delivering them. It returns once the send has been accepted; progress is
// reported through Snapshot.Sending and Snapshot.WifiStatus. Invalid
// credentials fail with ErrValidation without touching the transport.
func (s *Session) SendCredentials(creds Credentials) error {
	if err := creds.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.post(reportError{msg: verr.Hint})
		}
		return err
	}
	reply := make(chan error, 1)
	if !s.post(sendCmd{creds: creds, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Close stops the loop. Any live connection is released before Done closes.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

// post delivers ev to the loop. It reports false once the loop has exited.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Run processes commands and transport events until ctx is cancelled or
// Close is called. It returns ctx.Err() or nil.
func (s *Session) Run(ctx context.Context) error {
	s.base = ctx
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) shutdown() {
	close(s.done)
	s.stopWork()
	if s.conn != nil {
		s.link.Disconnect(s.conn)
		s.conn = nil
	}
	s.update(func(sn *Snapshot) {
		*sn = Snapshot{State: Disconnected, Error: sn.Error}
	})
	slog.Debug("[SESSION] stopped")
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case startScanCmd:
		s.startScan()
	case disconnectCmd:
		s.teardown()
	case sendCmd:
		ev.reply <- s.startSend(ev.creds)
	case reportError:
		s.update(func(sn *Snapshot) { sn.Error = ev.msg })
	case preflightDone:
		s.preflightDone(ev)
	case scanDone:
		s.scanDone(ev)
	case connectDone:
		s.connectDone(ev)
	case sendDone:
		s.sendDone(ev)
	case notification:
		s.notification(ev)
	case linkLost:
		s.linkLost(ev)
	}
}

func (s *Session) startScan() {
	if s.snap.State != Disconnected || s.starting {
		return
	}
	s.gen++
	s.starting = true
	s.attempt = uuid.NewString()
	s.update(func(sn *Snapshot) {
		sn.Error = ""
		sn.WifiStatus = StatusNone
		sn.StatusAt = time.Time{}
	})
	slog.Info("[SESSION] starting scan", "attempt", s.attempt, "device", s.opts.DeviceName)

	gen, ctx := s.gen, s.newWork()
	go func() {
		s.post(preflightDone{gen: gen, err: s.preflight(ctx)})
	}()
}

func (s *Session) preflight(ctx context.Context) error {
	if !s.gate.EnsureGranted(ctx) {
		return ErrPermissionDenied
	}
	on, err := s.radio.PoweredOn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ble.ErrAdapterUnavailable, err)
	}
	if !on {
		return ble.ErrAdapterUnavailable
	}
	return nil
}

func (s *Session) preflightDone(ev preflightDone) {
	if ev.gen != s.gen || !s.starting {
		return
	}
	s.starting = false
	if ev.err != nil {
		slog.Warn("[SESSION] cannot scan", "attempt", s.attempt, "error", ev.err)
		s.stopWork()
		s.update(func(sn *Snapshot) { sn.Error = s.describe(ev.err) })
		return
	}
	s.update(func(sn *Snapshot) { sn.State = Scanning })

	gen, ctx := s.gen, s.work
	go func() {
		p, err := s.finder.FindByName(ctx, s.opts.DeviceName, s.opts.ScanTimeout)
		s.post(scanDone{gen: gen, peripheral: p, err: err})
	}()
}

func (s *Session) scanDone(ev scanDone) {
	if ev.gen != s.gen || s.snap.State != Scanning {
		return
	}
	if ev.err != nil {
		slog.Warn("[SESSION] scan failed", "attempt", s.attempt, "error", ev.err)
		s.stopWork()
		s.update(func(sn *Snapshot) {
			sn.State = Disconnected
			sn.Error = s.describe(ev.err)
		})
		return
	}

	gen, ctx := s.gen, s.work
	go func() {
		conn, err := s.link.Connect(ctx, ev.peripheral, s.opts.ConnectTimeout)
		if !s.post(connectDone{gen: gen, conn: conn, err: err}) && conn != nil {
			s.link.Disconnect(conn)
		}
	}()
}

func (s *Session) connectDone(ev connectDone) {
	if ev.gen != s.gen || s.snap.State != Scanning {
		if ev.conn != nil {
			slog.Debug("[SESSION] releasing stale connection", "address", ev.conn.Peripheral().Address)
			go s.link.Disconnect(ev.conn)
		}
		return
	}
	if ev.err != nil {
		slog.Warn("[SESSION] connect failed", "attempt", s.attempt, "error", ev.err)
		s.stopWork()
		s.update(func(sn *Snapshot) {
			sn.State = Disconnected
			sn.Error = s.describe(ev.err)
		})
		return
	}

	s.conn = ev.conn
	s.update(func(sn *Snapshot) {
		sn.State = Connected
		sn.Device = ev.conn.Peripheral()
	})
	slog.Info("[SESSION] connected", "attempt", s.attempt, "address", ev.conn.Peripheral().Address)

	gen, lost := s.gen, ev.conn.Lost()
	go func() {
		select {
		case <-lost:
			s.post(linkLost{gen: gen})
		case <-s.done:
		}
	}()
}

func (s *Session) linkLost(ev linkLost) {
	if ev.gen != s.gen || s.snap.State != Connected {
		return
	}
	slog.Warn("[SESSION] device connection lost", "attempt", s.attempt)
	s.teardown()
	s.update(func(sn *Snapshot) {
		sn.Error = fmt.Sprintf("Lost connection to %s.", s.opts.DeviceName)
	})
}

// teardown returns to Disconnected from any phase. Transport calls happen
// off the loop so a notification callback blocked on post cannot deadlock it.
func (s *Session) teardown() {
	s.gen++
	s.starting = false
	s.stopWork()
	if conn := s.conn; conn != nil {
		s.conn = nil
		go s.link.Disconnect(conn)
	}
	s.update(func(sn *Snapshot) {
		sn.State = Disconnected
		sn.Device = ble.Peripheral{}
		sn.WifiStatus = StatusNone
		sn.StatusAt = time.Time{}
		sn.Sending = false
	})
	slog.Debug("[SESSION] disconnected", "attempt", s.attempt)
}

func (s *Session) startSend(creds Credentials) error {
	if s.snap.State != Connected || s.conn == nil {
		s.update(func(sn *Snapshot) { sn.Error = "Not connected to device." })
		return ErrNotConnected
	}
	if s.snap.Sending {
		return ErrSendInFlight
	}
	s.sendGen++
	s.update(func(sn *Snapshot) {
		sn.Sending = true
		sn.Error = ""
		sn.WifiStatus = StatusNone
		sn.StatusAt = time.Time{}
	})
	slog.Info("[SESSION] sending credentials", "attempt", s.attempt, "send", s.sendGen)

	gen, sendGen, conn, ctx := s.gen, s.sendGen, s.conn, s.work
	go func() {
		err := s.send(ctx, conn, gen, sendGen, creds)
		s.post(sendDone{gen: gen, sendGen: sendGen, err: err})
	}()
	return nil
}

// send subscribes to status notifications, then writes the network name
// followed by the passphrase, each acknowledged before the next begins.
func (s *Session) send(ctx context.Context, conn *ble.ActiveConnection, gen, sendGen uint64, creds Credentials) error {
	_, err := s.link.Subscribe(conn, ble.ChannelStatus, func(text string) {
		s.post(notification{gen: gen, sendGen: sendGen, text: text, at: time.Now()})
	})
	if err != nil {
		return err
	}
	if err := s.write(ctx, conn, ble.ChannelSSID, creds.SSID); err != nil {
		return err
	}
	return s.write(ctx, conn, ble.ChannelPassphrase, creds.Passphrase)
}

func (s *Session) write(ctx context.Context, conn *ble.ActiveConnection, ch ble.Channel, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.link.Write(ctx, conn, ch, protocol.Encode(text))
}

func (s *Session) sendDone(ev sendDone) {
	if ev.gen != s.gen || ev.sendGen != s.sendGen {
		return
	}
	if ev.err != nil {
		slog.Warn("[SESSION] send failed", "attempt", s.attempt, "error", ev.err)
	} else {
		slog.Info("[SESSION] credentials delivered", "attempt", s.attempt)
	}
	s.update(func(sn *Snapshot) {
		sn.Sending = false
		if ev.err != nil {
			sn.Error = "Failed to send credentials: " + ev.err.Error()
		}
	})
}

func (s *Session) notification(ev notification) {
	if ev.gen != s.gen || ev.sendGen != s.sendGen || s.snap.State != Connected {
		return
	}
	status, ok := observeStatus(ev.text)
	if !ok {
		slog.Debug("[SESSION] ignoring status text", "text", ev.text)
		return
	}
	slog.Info("[SESSION] wifi status", "attempt", s.attempt, "status", status)
	s.update(func(sn *Snapshot) {
		sn.WifiStatus = status
		sn.StatusAt = ev.at
	})
}

// newWork cancels any outstanding workers and returns a context for the
// next attempt.
func (s *Session) newWork() context.Context {
	s.stopWork()
	base := s.base
	if base == nil {
		base = context.Background()
	}
	s.work, s.cancel = context.WithCancel(base)
	return s.work
}

func (s *Session) stopWork() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// update applies fn to the snapshot and publishes the result.
func (s *Session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	snap := s.snap
	s.mu.Unlock()

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

// describe renders err as the message shown to the user.
func (s *Session) describe(err error) string {
	var connErr *ble.ConnectError
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Bluetooth permissions are required to scan for devices."
	case errors.Is(err, ble.ErrAdapterUnavailable):
		return "Please enable Bluetooth on your device."
	case errors.Is(err, ble.ErrNotFound):
		return fmt.Sprintf("Device not found. Make sure %s is powered on and nearby.", s.opts.DeviceName)
	case errors.Is(err, ble.ErrConnectTimeout), errors.As(err, &connErr):
		return "Failed to connect: " + err.Error()
	default:
		return "Scan failed: " + err.Error()
	}
}
