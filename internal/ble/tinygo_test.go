package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/choclchain-setup/internal/ble/protocol"
)

// fakeGATT stands in for a tinygo characteristic: it sees exactly the bytes
// that would go over the air.
type fakeGATT struct {
	uuid string

	mu     sync.Mutex
	writes [][]byte
	notify func([]byte)
}

func (g *fakeGATT) UUID() string { return g.uuid }

func (g *fakeGATT) EnableNotifications(cb func([]byte)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = cb
	return nil
}

func (g *fakeGATT) WriteRequest(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, append([]byte(nil), data...))
	return nil
}

// emit delivers value the way tinygo does: the buffer is reused afterwards.
func (g *fakeGATT) emit(value string) {
	g.mu.Lock()
	cb := g.notify
	g.mu.Unlock()
	if cb == nil {
		return
	}
	buf := []byte(value)
	cb(buf)
	for i := range buf {
		buf[i] = 0
	}
}

type gattConnection struct{ services []Service }

func (c gattConnection) DiscoverServices() ([]Service, error) { return c.services, nil }
func (c gattConnection) Disconnect() error                    { return nil }
func (c gattConnection) OnDisconnect(func())                  {}

type gattAdapter struct{ conn Connection }

func (a gattAdapter) Enable() error                                   { return nil }
func (a gattAdapter) PoweredOn(context.Context) (bool, error)         { return true, nil }
func (a gattAdapter) Scan(context.Context, func(Advertisement)) error { return nil }
func (a gattAdapter) Connect(context.Context, string) (Connection, error) {
	return a.conn, nil
}

// gattManager connects a Manager to tinygoCharacteristics backed by fakes.
func gattManager(t *testing.T) (*Manager, *ActiveConnection, map[string]*fakeGATT) {
	t.Helper()
	id := DefaultIdentity()
	fakes := make(map[string]*fakeGATT)
	svc := Service{UUID: id.ServiceUUID}
	for _, uuid := range []string{id.SSIDCharUUID, id.PassCharUUID, id.StatusCharUUID} {
		g := &fakeGATT{uuid: uuid}
		fakes[uuid] = g
		svc.Characteristics = append(svc.Characteristics, &tinygoCharacteristic{gatt: g})
	}

	mgr := NewManager(gattAdapter{conn: gattConnection{services: []Service{svc}}}, id)
	conn, err := mgr.Connect(context.Background(), Peripheral{Address: "AA:BB:CC:DD:EE:FF", Name: DeviceName}, time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return mgr, conn, fakes
}

func TestTinyGoWritesRawText(t *testing.T) {
	mgr, conn, fakes := gattManager(t)

	if err := mgr.Write(context.Background(), conn, ChannelSSID, protocol.Encode("HomeNet")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := mgr.Write(context.Background(), conn, ChannelPassphrase, protocol.Encode("Café ☕")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	ssid := fakes[SSIDCharUUID].writes
	if len(ssid) != 1 || string(ssid[0]) != "HomeNet" {
		t.Errorf("ssid on air = %q, want [HomeNet]", ssid)
	}
	pass := fakes[PassCharUUID].writes
	if len(pass) != 1 || string(pass[0]) != "Café ☕" {
		t.Errorf("passphrase on air = %q, want [Café ☕]", pass)
	}
}

func TestTinyGoNotificationReachesSubscriber(t *testing.T) {
	mgr, conn, fakes := gattManager(t)

	var (
		mu  sync.Mutex
		got []string
	)
	_, err := mgr.Subscribe(conn, ChannelStatus, func(v string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	status := fakes[StatusCharUUID]
	status.emit("CONNECTING")
	status.emit("CONNECTED")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "CONNECTING" || got[1] != "CONNECTED" {
		t.Errorf("delivered = %q, want [CONNECTING CONNECTED]", got)
	}
	if s, ok := protocol.ParseStatus(got[1]); !ok || s != protocol.StatusConnected {
		t.Errorf("ParseStatus(%q) = (%v, %v), want CONNECTED", got[1], s, ok)
	}
}

func TestTinyGoUnsubscribeStopsDispatch(t *testing.T) {
	g := &fakeGATT{uuid: StatusCharUUID}
	c := &tinygoCharacteristic{gatt: g}

	var calls int
	if err := c.Subscribe(func([]byte) { calls++ }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	g.emit("CONNECTED")
	if err := c.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	g.emit("FAILED")

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}
