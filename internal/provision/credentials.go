package provision

import (
	"errors"
	"log/slog"
	"strings"
)

// WPA2 limits on the values the firmware will accept.
const (
	maxSSIDBytes       = 32
	maxPassphraseBytes = 63
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("provision: invalid credentials")

// ValidationError reports credentials rejected before any transport call.
type ValidationError struct {
	Reason string // for logs
	Hint   string // for the user
}

func (e *ValidationError) Error() string        { return "provision: invalid credentials: " + e.Reason }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Credentials are the WiFi network name and passphrase sent to the device.
// They are held only for the duration of a send and never logged.
type Credentials struct {
	SSID       string
	Passphrase string
}

// Validate checks the credentials locally. An empty passphrase is allowed
// for open networks.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.SSID) == "" {
		return &ValidationError{Reason: "network name is empty", Hint: "Please enter a WiFi network name."}
	}
	if len(c.SSID) > maxSSIDBytes {
		return &ValidationError{Reason: "network name too long", Hint: "WiFi network name must be at most 32 bytes."}
	}
	if len(c.Passphrase) > maxPassphraseBytes {
		return &ValidationError{Reason: "passphrase too long", Hint: "WiFi password must be at most 63 characters."}
	}
	return nil
}

// String keeps credentials out of formatted output.
func (c Credentials) String() string { return "[credentials redacted]" }

// LogValue keeps credentials out of structured logs.
func (c Credentials) LogValue() slog.Value { return slog.StringValue("[redacted]") }
