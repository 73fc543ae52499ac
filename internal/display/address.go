package display

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidAddress means a display address is not a canonical dotted-quad IPv4 address.
var ErrInvalidAddress = errors.New("display: invalid address, use XXX.XXX.XXX.XXX")

// ValidateAddress accepts exactly four decimal octets in 0-255 written in
// canonical form: no leading zeros, signs or surrounding space.
func ValidateAddress(addr string) error {
	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return ErrInvalidAddress
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 || strconv.Itoa(n) != p {
			return ErrInvalidAddress
		}
	}
	return nil
}
