// internal/ble/protocol/status.go
package protocol

import "strings"

// Status literals notified by the peripheral on the status characteristic.
const (
	StatusConnecting = "CONNECTING"
	StatusConnected  = "CONNECTED"
	StatusFailed     = "FAILED"
)

// ParseStatus trims text and reports whether it is one of the status
// literals. The returned literal is only meaningful when ok is true.
func ParseStatus(text string) (literal string, ok bool) {
	s := strings.TrimSpace(text)
	switch s {
	case StatusConnecting, StatusConnected, StatusFailed:
		return s, true
	}
	return "", false
}
