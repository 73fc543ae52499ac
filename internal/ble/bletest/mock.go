// Package bletest provides an in-memory BLE transport for tests. The mock
// adapter plays a scripted sequence of advertisements and hands out
// connections exposing the provisioning service; every transport call is
// recorded in order on a shared Recorder.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/choclchain-setup/internal/ble"
)

// Recorder keeps an ordered log of transport calls such as
// "subscribe status", "write ssid HomeNet" and "ack ssid".
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *Recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the log.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Characteristic records writes and allows subscribing.
type Characteristic struct {
	uuid  string
	label string
	rec   *Recorder

	mu           sync.Mutex
	writes       [][]byte
	callback     func([]byte)
	unsubscribes int
	writeErr     error
	writeDelay   time.Duration
}

func (c *Characteristic) UUID() string { return c.uuid }

func (c *Characteristic) Write(data []byte) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	delay, werr := c.writeDelay, c.writeErr
	c.mu.Unlock()

	c.rec.add("write %s %s", c.label, cp)
	if delay > 0 {
		time.Sleep(delay)
	}
	if werr != nil {
		c.rec.add("reject %s", c.label)
		return werr
	}
	c.rec.add("ack %s", c.label)
	return nil
}

func (c *Characteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	c.rec.add("subscribe %s", c.label)
	return nil
}

func (c *Characteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	c.unsubscribes++
	c.rec.add("unsubscribe %s", c.label)
	return nil
}

// SetWriteError makes subsequent writes fail with err.
func (c *Characteristic) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// SetWriteDelay makes subsequent writes take d before acknowledging.
func (c *Characteristic) SetWriteDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDelay = d
}

// Notify sends data to the subscriber as the peripheral would put it on the
// air.
func (c *Characteristic) Notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// NotifyText sends text as a notification, the way the firmware reports
// status.
func (c *Characteristic) NotifyText(text string) {
	c.Notify([]byte(text))
}

// Writes returns every value written so far, as it went over the air.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Subscribed reports whether a callback is registered.
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Connection simulates a BLE connection exposing the provisioning service.
type Connection struct {
	Address string

	services []ble.Service
	chars    map[string]*Characteristic
	rec      *Recorder

	mu           sync.Mutex
	disconnectCb func()
	disconnects  int
}

func newConnection(address string, id ble.Identity, rec *Recorder, omit string) *Connection {
	c := &Connection{Address: address, chars: make(map[string]*Characteristic), rec: rec}
	svc := ble.Service{UUID: strings.ToLower(id.ServiceUUID)}
	for _, ch := range []struct{ uuid, label string }{
		{id.SSIDCharUUID, "ssid"},
		{id.PassCharUUID, "passphrase"},
		{id.StatusCharUUID, "status"},
	} {
		uuid := strings.ToLower(ch.uuid)
		if uuid == strings.ToLower(omit) {
			continue
		}
		char := &Characteristic{uuid: uuid, label: ch.label, rec: rec}
		c.chars[uuid] = char
		svc.Characteristics = append(svc.Characteristics, char)
	}
	battery := ble.Service{UUID: "0000180f-0000-1000-8000-00805f9b34fb"}
	c.services = []ble.Service{battery, svc}
	return c
}

// Char returns the characteristic with the given UUID, or nil.
func (c *Connection) Char(uuid string) *Characteristic {
	return c.chars[strings.ToLower(uuid)]
}

func (c *Connection) DiscoverServices() ([]ble.Service, error) {
	return c.services, nil
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.rec.add("disconnect %s", c.Address)
	return nil
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the peripheral-initiated disconnect callback.
func (c *Connection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type scheduledAdvert struct {
	after time.Duration
	adv   ble.Advertisement
}

// Adapter simulates the BLE adapter.
type Adapter struct {
	identity ble.Identity
	rec      *Recorder

	mu           sync.Mutex
	powered      bool
	adverts      []scheduledAdvert
	scanErr      error
	connectDelay time.Duration
	connectErr   error
	omitChar     string
	scanning     int
	maxScanning  int
	scans        int
	conns        []*Connection
}

// NewAdapter returns a powered-on adapter for peripherals with identity id.
func NewAdapter(id ble.Identity) *Adapter {
	return &Adapter{identity: id, rec: &Recorder{}, powered: true}
}

// Recorder returns the shared call log.
func (a *Adapter) Recorder() *Recorder { return a.rec }

// SetPowered switches the simulated radio.
func (a *Adapter) SetPowered(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.powered = on
}

// Advertise schedules adv to be seen after delay from the start of every scan.
func (a *Adapter) Advertise(after time.Duration, adv ble.Advertisement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adverts = append(a.adverts, scheduledAdvert{after: after, adv: adv})
}

// SetScanError makes scans fail with err after the scheduled advertisements.
func (a *Adapter) SetScanError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanErr = err
}

// SetConnect configures the latency and outcome of Connect.
func (a *Adapter) SetConnect(delay time.Duration, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectDelay = delay
	a.connectErr = err
}

// OmitCharacteristic makes new connections lack the characteristic uuid.
func (a *Adapter) OmitCharacteristic(uuid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.omitChar = uuid
}

func (a *Adapter) Enable() error { return nil }

func (a *Adapter) PoweredOn(_ context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.powered, nil
}

func (a *Adapter) Scan(ctx context.Context, onAdvert func(ble.Advertisement)) error {
	a.mu.Lock()
	if !a.powered {
		a.mu.Unlock()
		return errors.New("bletest: adapter powered off")
	}
	a.scanning++
	a.scans++
	if a.scanning > a.maxScanning {
		a.maxScanning = a.scanning
	}
	adverts := append([]scheduledAdvert(nil), a.adverts...)
	scanErr := a.scanErr
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.scanning--
		a.mu.Unlock()
	}()

	start := time.Now()
	for _, s := range adverts {
		wait := time.Until(start.Add(s.after))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		onAdvert(s.adv)
	}
	if scanErr != nil {
		return scanErr
	}
	<-ctx.Done()
	return nil
}

func (a *Adapter) Connect(ctx context.Context, address string) (ble.Connection, error) {
	a.mu.Lock()
	delay, cerr, omit := a.connectDelay, a.connectErr, a.omitChar
	a.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("bletest: connect to %s: %w", address, ctx.Err())
		case <-timer.C:
		}
	}
	if cerr != nil {
		return nil, cerr
	}

	conn := newConnection(address, a.identity, a.rec, omit)
	a.mu.Lock()
	a.conns = append(a.conns, conn)
	a.mu.Unlock()
	a.rec.add("connect %s", address)
	return conn, nil
}

// LatestConnection returns the most recently created connection, or nil.
func (a *Adapter) LatestConnection() *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// Connections returns every connection handed out so far.
func (a *Adapter) Connections() []*Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Connection(nil), a.conns...)
}

// Scanning returns the number of discoveries currently running.
func (a *Adapter) Scanning() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

// MaxConcurrentScans returns the highest number of simultaneous discoveries seen.
func (a *Adapter) MaxConcurrentScans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxScanning
}

// Scans returns how many discoveries have been started.
func (a *Adapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// Compile-time interface checks.
var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)
