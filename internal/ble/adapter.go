// Package ble provides the BLE central side of ChoclChain WiFi provisioning:
// discovery of the peripheral by name, connection lifecycle, acknowledged
// characteristic writes and status notifications.
package ble

import "context"

// ChoclChain provisioning service defaults.
const (
	DeviceName     = "ChoclChain"
	ServiceUUID    = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	SSIDCharUUID   = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	PassCharUUID   = "beb5483e-36e1-4688-b7f5-ea07361b26a9"
	StatusCharUUID = "beb5483e-36e1-4688-b7f5-ea07361b26aa"
)

// Identity names the peripheral and the GATT endpoints used for provisioning.
type Identity struct {
	DeviceName     string
	ServiceUUID    string
	SSIDCharUUID   string
	PassCharUUID   string
	StatusCharUUID string
}

// DefaultIdentity returns the identity of the stock ChoclChain firmware.
func DefaultIdentity() Identity {
	return Identity{
		DeviceName:     DeviceName,
		ServiceUUID:    ServiceUUID,
		SSIDCharUUID:   SSIDCharUUID,
		PassCharUUID:   PassCharUUID,
		StatusCharUUID: StatusCharUUID,
	}
}

// Channel is a logical provisioning endpoint on the peripheral.
type Channel int

const (
	ChannelSSID Channel = iota
	ChannelPassphrase
	ChannelStatus
)

func (c Channel) String() string {
	switch c {
	case ChannelSSID:
		return "ssid"
	case ChannelPassphrase:
		return "passphrase"
	case ChannelStatus:
		return "status"
	default:
		return "unknown"
	}
}

// charUUID returns the characteristic UUID backing c.
func (id Identity) charUUID(c Channel) string {
	switch c {
	case ChannelSSID:
		return id.SSIDCharUUID
	case ChannelPassphrase:
		return id.PassCharUUID
	case ChannelStatus:
		return id.StatusCharUUID
	default:
		return ""
	}
}

// Advertisement is a single discovery result.
type Advertisement struct {
	Address   string
	Name      string // primary (GAP) device name, if the platform reports one
	LocalName string // local name carried in the advertising payload
	RSSI      int
}

// Peripheral is a handle to a discovered device, valid as input to Connect.
type Peripheral struct {
	Address string
	Name    string
	RSSI    int
}

// Characteristic represents a BLE GATT characteristic. Values are the raw
// bytes carried over the air.
type Characteristic interface {
	// UUID returns the characteristic UUID in canonical lowercase form.
	UUID() string
	// Write sends data with a write request and returns once the peripheral
	// has acknowledged it.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic,
	// replacing any previously registered callback.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe disables notifications.
	Unsubscribe() error
}

// Service is a discovered GATT service and its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverServices lists every service and characteristic on the peripheral.
	DiscoverServices() ([]Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE stack.
	Enable() error
	// PoweredOn reports whether the radio is on and usable.
	PoweredOn(ctx context.Context) (bool, error)
	// Scan runs an open discovery, calling onAdvert for every advertisement,
	// until ctx is cancelled (returns nil) or the transport fails.
	Scan(ctx context.Context, onAdvert func(Advertisement)) error
	// Connect establishes a connection to the device at address.
	Connect(ctx context.Context, address string) (Connection, error)
}
