// Package bluez queries the BlueZ daemon over the D-Bus system bus for the
// facts tinygo's bluetooth package does not expose (whether bluetoothd is
// reachable, whether the adapter radio is powered, the GAP name of a
// discovered device) and performs acknowledged characteristic writes, which
// tinygo only offers on macOS and Windows.
package bluez

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	gattCharIface   = "org.bluez.GattCharacteristic1"
	writeValue      = gattCharIface + ".WriteValue"
	propertiesGet   = "org.freedesktop.DBus.Properties.Get"
	managedObjects  = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	nameHasOwner    = "org.freedesktop.DBus.NameHasOwner"
	defaultAdapter  = "hci0"
	adapterRootPath = "/org/bluez/"
)

// Client reads BlueZ state for one adapter.
type Client struct {
	conn    *dbus.Conn
	adapter string

	mu    sync.Mutex
	names map[string]string          // device address -> GAP name
	chars map[string]dbus.ObjectPath // address + "/" + characteristic UUID -> object path
}

// Dial connects to the system bus. adapter is the controller name, e.g. "hci0".
func Dial(adapter string) (*Client, error) {
	if adapter == "" {
		adapter = defaultAdapter
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	return &Client{
		conn:    conn,
		adapter: adapter,
		names:   make(map[string]string),
		chars:   make(map[string]dbus.ObjectPath),
	}, nil
}

// Close releases the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Available reports whether bluetoothd owns its well-known name on the bus.
func (c *Client) Available(ctx context.Context) (bool, error) {
	var has bool
	if err := c.conn.BusObject().CallWithContext(ctx, nameHasOwner, 0, bluezService).Store(&has); err != nil {
		return false, fmt.Errorf("bluez: name lookup: %w", err)
	}
	return has, nil
}

// Powered reports the adapter's Powered property.
func (c *Client) Powered(ctx context.Context) (bool, error) {
	v, err := c.property(ctx, AdapterPath(c.adapter), adapterIface, "Powered")
	if err != nil {
		return false, err
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: Powered has type %s", v.Signature())
	}
	return powered, nil
}

// DeviceName returns the GAP name BlueZ holds for the device at address.
// Names are cached per address once known; misses are retried since BlueZ
// may resolve the name later in the scan.
func (c *Client) DeviceName(ctx context.Context, address string) (string, bool) {
	c.mu.Lock()
	name, ok := c.names[address]
	c.mu.Unlock()
	if ok {
		return name, true
	}

	v, err := c.property(ctx, DevicePath(c.adapter, address), deviceIface, "Name")
	if err != nil {
		return "", false
	}
	name, _ = v.Value().(string)
	if name == "" {
		return "", false
	}

	c.mu.Lock()
	c.names[address] = name
	c.mu.Unlock()
	return name, true
}

// WriteCharacteristic writes value to the characteristic uuid of the
// connected device at address as a write request, returning once the
// peripheral has acknowledged it.
func (c *Client) WriteCharacteristic(ctx context.Context, address, uuid string, value []byte) error {
	path, err := c.characteristicPath(ctx, address, uuid)
	if err != nil {
		return err
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	if err := c.conn.Object(bluezService, path).CallWithContext(ctx, writeValue, 0, value, opts).Err; err != nil {
		// The object may be gone after a reconnect; resolve it afresh next time.
		c.mu.Lock()
		delete(c.chars, charKey(address, uuid))
		c.mu.Unlock()
		return fmt.Errorf("bluez: write %s on %s: %w", uuid, address, err)
	}
	return nil
}

func (c *Client) characteristicPath(ctx context.Context, address, uuid string) (dbus.ObjectPath, error) {
	key := charKey(address, uuid)
	c.mu.Lock()
	path, ok := c.chars[key]
	c.mu.Unlock()
	if ok {
		return path, nil
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := c.conn.Object(bluezService, "/").CallWithContext(ctx, managedObjects, 0).Store(&objects); err != nil {
		return "", fmt.Errorf("bluez: list objects: %w", err)
	}
	path, ok = findCharacteristic(objects, DevicePath(c.adapter, address), uuid)
	if !ok {
		return "", fmt.Errorf("bluez: characteristic %s not found on %s", uuid, address)
	}

	c.mu.Lock()
	c.chars[key] = path
	c.mu.Unlock()
	return path, nil
}

// findCharacteristic picks the GattCharacteristic1 object below device whose
// UUID matches uuid.
func findCharacteristic(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, device dbus.ObjectPath, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(device) + "/"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[gattCharIface]
		if !ok {
			continue
		}
		if v, ok := props["UUID"]; ok {
			if got, _ := v.Value().(string); strings.EqualFold(got, uuid) {
				return path, true
			}
		}
	}
	return "", false
}

func charKey(address, uuid string) string {
	return strings.ToUpper(address) + "/" + strings.ToLower(uuid)
}

func (c *Client) property(ctx context.Context, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	obj := c.conn.Object(bluezService, path)
	if err := obj.CallWithContext(ctx, propertiesGet, 0, iface, prop).Store(&v); err != nil {
		return dbus.Variant{}, fmt.Errorf("bluez: get %s.%s on %s: %w", iface, prop, path, err)
	}
	return v, nil
}

// AdapterPath returns the object path of a controller, e.g. /org/bluez/hci0.
func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath(adapterRootPath + adapter)
}

// DevicePath returns the object path BlueZ uses for a device address,
// e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func DevicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(AdapterPath(adapter)) + "/dev_" + strings.ToUpper(strings.ReplaceAll(address, ":", "_")))
}
