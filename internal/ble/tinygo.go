package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// PlatformProbe supplies what tinygo's bluetooth package does not expose.
// On Linux it is backed by BlueZ over D-Bus and is required for
// acknowledged writes.
type PlatformProbe interface {
	Powered(ctx context.Context) (bool, error)
	DeviceName(ctx context.Context, address string) (string, bool)
	WriteCharacteristic(ctx context.Context, address, uuid string, value []byte) error
}

// TinyGoAdapter implements Adapter on top of tinygo-org/bluetooth.
// On macOS device addresses are CoreBluetooth UUIDs rather than MAC
// addresses; both are carried as opaque strings.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	probe   PlatformProbe // may be nil

	// mu protects enabled and the connections map.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*tinygoConnection // keyed by device address
}

// NewTinyGoAdapter creates an adapter on the default controller. probe may be nil.
func NewTinyGoAdapter(probe PlatformProbe) *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		probe:       probe,
		connections: make(map[string]*tinygoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}
	a.enabled = true

	// tinygo reports peripheral-initiated disconnects through the
	// adapter-level connect handler (connected=false).
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})
	return nil
}

func (a *TinyGoAdapter) PoweredOn(ctx context.Context) (bool, error) {
	if err := a.Enable(); err != nil {
		slog.Debug("[BLE] enable adapter failed", "error", err)
		return false, nil
	}
	if a.probe == nil {
		return true, nil
	}
	return a.probe.Powered(ctx)
}

func (a *TinyGoAdapter) Scan(ctx context.Context, onAdvert func(Advertisement)) error {
	if err := a.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := a.adapter.StopScan(); err != nil {
				slog.Debug("[BLE] stop scan failed", "error", err)
			}
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := Advertisement{
			Address:   result.Address.String(),
			LocalName: result.LocalName(),
			RSSI:      int(result.RSSI),
		}
		if a.probe != nil && adv.LocalName == "" {
			adv.Name, _ = a.probe.DeviceName(ctx, adv.Address)
		}
		onAdvert(adv)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo's Connect blocks with its own timeout; wrap it so ctx wins.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The abandoned attempt is released if it completes late.
		go func() {
			if result := <-ch; result.err == nil {
				_ = result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinygoConnection{device: result.device, address: address, probe: a.probe}

		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinygoConnection struct {
	device  bluetooth.Device
	address string
	probe   PlatformProbe

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverServices() ([]Service, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}

	out := make([]Service, 0, len(svcs))
	for i := range svcs {
		chars, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", svcs[i].UUID(), err)
		}
		svc := Service{UUID: strings.ToLower(svcs[i].UUID().String())}
		for j := range chars {
			gatt := deviceCharacteristic{
				char:    chars[j],
				uuid:    strings.ToLower(chars[j].UUID().String()),
				address: c.address,
				probe:   c.probe,
			}
			svc.Characteristics = append(svc.Characteristics, &tinygoCharacteristic{gatt: gatt})
		}
		out = append(out, svc)
	}
	return out, nil
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// gattCharacteristic is the part of a transport characteristic that
// tinygoCharacteristic drives. Values are raw bytes in both directions.
type gattCharacteristic interface {
	UUID() string
	EnableNotifications(callback func(buf []byte)) error
	WriteRequest(data []byte) error
}

// deviceCharacteristic adapts a tinygo characteristic. WriteRequest lives in
// the per-platform tinygo_write files.
type deviceCharacteristic struct {
	char    bluetooth.DeviceCharacteristic
	uuid    string
	address string
	probe   PlatformProbe // may be nil
}

func (c deviceCharacteristic) UUID() string { return c.uuid }

func (c deviceCharacteristic) EnableNotifications(callback func(buf []byte)) error {
	return c.char.EnableNotifications(callback)
}

// tinygoCharacteristic enables notifications on the transport once and
// dispatches to whichever callback is currently registered; tinygo refuses
// to enable notifications twice on some platforms.
type tinygoCharacteristic struct {
	gatt gattCharacteristic

	mu       sync.Mutex
	callback func([]byte)
	enabled  bool
}

func (c *tinygoCharacteristic) UUID() string {
	return c.gatt.UUID()
}

func (c *tinygoCharacteristic) Write(data []byte) error {
	return c.gatt.WriteRequest(data)
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	if c.enabled {
		return nil
	}
	if err := c.gatt.EnableNotifications(c.dispatch); err != nil {
		c.callback = nil
		return err
	}
	c.enabled = true
	return nil
}

func (c *tinygoCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	c.callback = nil
	enabled := c.enabled
	c.enabled = false
	c.mu.Unlock()
	if !enabled {
		return nil
	}
	// Not under mu: the transport may wait for an in-flight dispatch.
	return c.gatt.EnableNotifications(nil)
}

func (c *tinygoCharacteristic) dispatch(buf []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb == nil {
		return
	}
	// The transport may reuse buf after the callback returns.
	cp := make([]byte, len(buf))
	copy(cp, buf)
	cb(cp)
}
