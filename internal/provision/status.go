package provision

import "github.com/chaz8081/choclchain-setup/internal/ble/protocol"

// WifiStatus is the peripheral's report on its own WiFi join attempt.
type WifiStatus int

const (
	StatusNone WifiStatus = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s WifiStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "none"
	}
}

// Describe returns the user-facing text for s.
func (s WifiStatus) Describe() string {
	switch s {
	case StatusConnecting:
		return "Connecting to WiFi..."
	case StatusConnected:
		return "Successfully connected!"
	case StatusFailed:
		return "Connection failed. Check credentials."
	default:
		return ""
	}
}

// Terminal reports whether the device has finished its join attempt.
func (s WifiStatus) Terminal() bool {
	return s == StatusConnected || s == StatusFailed
}

// observeStatus maps a decoded notification to a WifiStatus. ok is false
// for text that is not a status literal; such payloads change nothing.
func observeStatus(text string) (status WifiStatus, ok bool) {
	literal, ok := protocol.ParseStatus(text)
	if !ok {
		return StatusNone, false
	}
	switch literal {
	case protocol.StatusConnecting:
		return StatusConnecting, true
	case protocol.StatusConnected:
		return StatusConnected, true
	default:
		return StatusFailed, true
	}
}
