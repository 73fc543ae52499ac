package ble_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/choclchain-setup/internal/ble"
	"github.com/chaz8081/choclchain-setup/internal/ble/bletest"
	"github.com/chaz8081/choclchain-setup/internal/ble/protocol"
)

var testPeripheral = ble.Peripheral{Address: "AA:BB:CC:DD:EE:FF", Name: "ChoclChain"}

func mustConnect(t *testing.T) (*bletest.Adapter, *ble.Manager, *ble.ActiveConnection) {
	t.Helper()
	adapter := bletest.NewAdapter(ble.DefaultIdentity())
	mgr := ble.NewManager(adapter, ble.DefaultIdentity())
	conn, err := mgr.Connect(context.Background(), testPeripheral, time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return adapter, mgr, conn
}

// collector gathers values delivered to a subscription callback.
type collector struct {
	mu     sync.Mutex
	values []string
}

func (c *collector) add(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.values...)
}

func TestConnectDiscoversServices(t *testing.T) {
	_, mgr, conn := mustConnect(t)

	if got := len(conn.Services()); got != 2 {
		t.Errorf("len(Services()) = %d, want 2", got)
	}
	if mgr.Active() != conn {
		t.Error("Active() should return the new connection")
	}
	if conn.Peripheral() != testPeripheral {
		t.Errorf("Peripheral() = %+v, want %+v", conn.Peripheral(), testPeripheral)
	}
}

func TestConnectTimeout(t *testing.T) {
	adapter := bletest.NewAdapter(ble.DefaultIdentity())
	adapter.SetConnect(500*time.Millisecond, nil)
	mgr := ble.NewManager(adapter, ble.DefaultIdentity())

	_, err := mgr.Connect(context.Background(), testPeripheral, 20*time.Millisecond)
	if !errors.Is(err, ble.ErrConnectTimeout) {
		t.Fatalf("Connect() error = %v, want ErrConnectTimeout", err)
	}
	if mgr.Active() != nil {
		t.Error("Active() should be nil after a failed connect")
	}
}

func TestConnectFailed(t *testing.T) {
	adapter := bletest.NewAdapter(ble.DefaultIdentity())
	adapter.SetConnect(0, errors.New("le-connection-abort-by-local"))
	mgr := ble.NewManager(adapter, ble.DefaultIdentity())

	_, err := mgr.Connect(context.Background(), testPeripheral, time.Second)
	var connErr *ble.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectError", err)
	}
}

func TestConnectMissingCharacteristic(t *testing.T) {
	adapter := bletest.NewAdapter(ble.DefaultIdentity())
	adapter.OmitCharacteristic(ble.StatusCharUUID)
	mgr := ble.NewManager(adapter, ble.DefaultIdentity())

	_, err := mgr.Connect(context.Background(), testPeripheral, time.Second)
	var connErr *ble.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectError", err)
	}
	if n := adapter.LatestConnection().Disconnects(); n != 1 {
		t.Errorf("link Disconnects() = %d, want 1 (released after failed discovery)", n)
	}
}

func TestConnectReplacesPrevious(t *testing.T) {
	adapter, mgr, first := mustConnect(t)
	firstLink := adapter.LatestConnection()

	second, err := mgr.Connect(context.Background(), testPeripheral, time.Second)
	if err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if firstLink.Disconnects() != 1 {
		t.Errorf("first link Disconnects() = %d, want 1", firstLink.Disconnects())
	}
	if mgr.Active() != second {
		t.Error("Active() should be the second connection")
	}
	if err := mgr.Write(context.Background(), first, ble.ChannelSSID, protocol.Encode("x")); !errors.Is(err, ble.ErrNotConnected) {
		t.Errorf("Write() on replaced connection error = %v, want ErrNotConnected", err)
	}
}

func TestConcurrentConnectKeepsOneLink(t *testing.T) {
	adapter := bletest.NewAdapter(ble.DefaultIdentity())
	adapter.SetConnect(20*time.Millisecond, nil)
	mgr := ble.NewManager(adapter, ble.DefaultIdentity())

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Connect(context.Background(), testPeripheral, time.Second); err != nil {
				t.Errorf("Connect() error = %v", err)
			}
		}()
	}
	wg.Wait()

	links := adapter.Connections()
	if len(links) != callers {
		t.Fatalf("len(Connections()) = %d, want %d", len(links), callers)
	}
	var up int
	for _, link := range links {
		if link.Disconnects() == 0 {
			up++
		}
	}
	if up != 1 {
		t.Errorf("%d links left up, want exactly 1", up)
	}
	if mgr.Active() == nil {
		t.Error("Active() = nil, want the surviving connection")
	}
}

func TestWriteAcknowledged(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)

	if err := mgr.Write(context.Background(), conn, ble.ChannelSSID, protocol.Encode("HomeNet")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// The peripheral receives the UTF-8 text itself, not its Base64 form.
	writes := adapter.LatestConnection().Char(ble.SSIDCharUUID).Writes()
	if len(writes) != 1 || string(writes[0]) != "HomeNet" {
		t.Errorf("ssid writes = %q, want [HomeNet]", writes)
	}
	calls := adapter.Recorder().Calls()
	if calls[len(calls)-1] != "ack ssid" {
		t.Errorf("last call = %q, want %q", calls[len(calls)-1], "ack ssid")
	}
}

func TestWriteRejected(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)
	adapter.LatestConnection().Char(ble.PassCharUUID).SetWriteError(errors.New("att: write not permitted"))

	err := mgr.Write(context.Background(), conn, ble.ChannelPassphrase, protocol.Encode("secret"))
	var writeErr *ble.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Write() error = %v, want *WriteError", err)
	}
	if writeErr.Channel != ble.ChannelPassphrase {
		t.Errorf("WriteError.Channel = %v, want %v", writeErr.Channel, ble.ChannelPassphrase)
	}
}

func TestWriteMalformedPayload(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)

	err := mgr.Write(context.Background(), conn, ble.ChannelSSID, []byte("HomeNet"))
	if !errors.Is(err, protocol.ErrMalformedPayload) {
		t.Fatalf("Write() error = %v, want ErrMalformedPayload", err)
	}
	if w := adapter.LatestConnection().Char(ble.SSIDCharUUID).Writes(); len(w) != 0 {
		t.Errorf("ssid writes = %q, want none", w)
	}
}

func TestWriteAfterDisconnect(t *testing.T) {
	_, mgr, conn := mustConnect(t)
	mgr.Disconnect(conn)

	err := mgr.Write(context.Background(), conn, ble.ChannelSSID, protocol.Encode("HomeNet"))
	if !errors.Is(err, ble.ErrNotConnected) {
		t.Fatalf("Write() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeDeliversRawText(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)
	var got collector

	if _, err := mgr.Subscribe(conn, ble.ChannelStatus, got.add); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// The firmware notifies plain UTF-8 bytes.
	status := adapter.LatestConnection().Char(ble.StatusCharUUID)
	status.Notify([]byte("CONNECTED"))

	if values := got.get(); len(values) != 1 || values[0] != "CONNECTED" {
		t.Errorf("delivered = %q, want [CONNECTED]", values)
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)
	var got collector

	if _, err := mgr.Subscribe(conn, ble.ChannelStatus, got.add); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	status := adapter.LatestConnection().Char(ble.StatusCharUUID)
	status.NotifyText("CONNECTING")
	status.Notify([]byte{0xff, 0xfe})
	status.Notify([]byte("CONN\xc3"))
	status.NotifyText("CONNECTED")

	values := got.get()
	if len(values) != 2 || values[0] != "CONNECTING" || values[1] != "CONNECTED" {
		t.Errorf("delivered = %q, want [CONNECTING CONNECTED]", values)
	}
}

func TestSubscribeReplacesPrevious(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)
	var first, second collector

	if _, err := mgr.Subscribe(conn, ble.ChannelStatus, first.add); err != nil {
		t.Fatalf("first Subscribe() error = %v", err)
	}
	status := adapter.LatestConnection().Char(ble.StatusCharUUID)
	status.NotifyText("CONNECTING")

	if _, err := mgr.Subscribe(conn, ble.ChannelStatus, second.add); err != nil {
		t.Fatalf("second Subscribe() error = %v", err)
	}
	status.NotifyText("CONNECTED")
	status.NotifyText("FAILED")

	if got := first.get(); len(got) != 1 || got[0] != "CONNECTING" {
		t.Errorf("first subscriber got %q, want only [CONNECTING]", got)
	}
	if got := second.get(); len(got) != 2 {
		t.Errorf("second subscriber got %q, want 2 values", got)
	}
}

func TestSubscriptionCancel(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)
	var got collector

	sub, err := mgr.Subscribe(conn, ble.ChannelStatus, got.add)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	sub.Cancel()
	sub.Cancel()

	status := adapter.LatestConnection().Char(ble.StatusCharUUID)
	if status.Subscribed() {
		t.Error("characteristic should be unsubscribed after Cancel")
	}
	status.NotifyText("CONNECTED")
	if n := len(got.get()); n != 0 {
		t.Errorf("cancelled subscription received %d values", n)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)
	var got collector
	if _, err := mgr.Subscribe(conn, ble.ChannelStatus, got.add); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	mgr.Disconnect(conn)
	mgr.Disconnect(conn)

	link := adapter.LatestConnection()
	if n := link.Disconnects(); n != 1 {
		t.Errorf("Disconnects() = %d, want 1", n)
	}
	if link.Char(ble.StatusCharUUID).Subscribed() {
		t.Error("subscription should be released on disconnect")
	}
	if mgr.Active() != nil {
		t.Error("Active() should be nil after Disconnect")
	}
	select {
	case <-conn.Lost():
	default:
		t.Error("Lost() should be closed after Disconnect")
	}
}

func TestLinkLost(t *testing.T) {
	adapter, mgr, conn := mustConnect(t)

	adapter.LatestConnection().SimulateDisconnect()

	select {
	case <-conn.Lost():
	case <-time.After(time.Second):
		t.Fatal("Lost() not closed after peripheral disconnect")
	}
	if mgr.Active() != nil {
		t.Error("Active() should be nil after link loss")
	}
	if err := mgr.Write(context.Background(), conn, ble.ChannelSSID, nil); !errors.Is(err, ble.ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}
}
