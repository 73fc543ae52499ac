// Package permission decides whether the process may use BLE discovery and
// connections, asking the platform for consent where it requires it.
package permission

import (
	"context"
	"log/slog"
)

// Capability is a platform permission needed for BLE provisioning.
type Capability string

const (
	BluetoothScan      Capability = "bluetooth_scan"
	BluetoothConnect   Capability = "bluetooth_connect"
	AccessFineLocation Capability = "access_fine_location"
	BlueZAccess        Capability = "bluez_access"
)

// Platform identifies the runtime for capability selection.
type Platform struct {
	OS       string // GOOS-style name, plus "android"
	APILevel int    // Android SDK level; ignored elsewhere
}

// Requester checks and requests capabilities from the platform.
type Requester interface {
	// Granted reports whether c is already held.
	Granted(ctx context.Context, c Capability) (bool, error)
	// Request asks for caps and reports the outcome of each.
	Request(ctx context.Context, caps []Capability) (map[Capability]bool, error)
}

// Gate answers whether scanning is allowed.
type Gate struct {
	platform  Platform
	requester Requester
}

// NewGate creates a Gate for platform. requester may be nil on platforms
// that need no runtime consent.
func NewGate(platform Platform, requester Requester) *Gate {
	return &Gate{platform: platform, requester: requester}
}

// Required returns the minimum capability set for the platform.
func (g *Gate) Required() []Capability {
	switch g.platform.OS {
	case "android":
		if g.platform.APILevel >= 31 {
			return []Capability{BluetoothScan, BluetoothConnect}
		}
		return []Capability{AccessFineLocation}
	case "linux":
		return []Capability{BlueZAccess}
	default:
		return nil
	}
}

// EnsureGranted reports whether every required capability is held,
// requesting the missing ones. It never fails: platform errors count as
// not granted.
func (g *Gate) EnsureGranted(ctx context.Context) bool {
	required := g.Required()
	if len(required) == 0 {
		return true
	}
	if g.requester == nil {
		slog.Warn("[PERM] no permission requester configured", "os", g.platform.OS)
		return false
	}

	var missing []Capability
	for _, c := range required {
		ok, err := g.requester.Granted(ctx, c)
		if err != nil {
			slog.Warn("[PERM] permission check failed", "capability", c, "error", err)
			return false
		}
		if !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return true
	}

	results, err := g.requester.Request(ctx, missing)
	if err != nil {
		slog.Warn("[PERM] permission request failed", "error", err)
		return false
	}
	for _, c := range missing {
		if !results[c] {
			slog.Info("[PERM] permission denied", "capability", c)
			return false
		}
	}
	return true
}
