// Package protocol implements the encoding for the ChoclChain WiFi
// provisioning service. Every characteristic value is UTF-8 text. Callers
// exchange it in wire form, standard padded Base64; the radio carries the
// raw UTF-8 bytes, and ble.Manager converts between the two with FromWire
// and Text.
package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformedPayload is returned by Decode when a characteristic value is
// not valid Base64 or does not decode to UTF-8 text.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// Encode returns the wire form of text.
func Encode(text string) []byte {
	buf := make([]byte, base64.StdEncoding.EncodedLen(len(text)))
	base64.StdEncoding.Encode(buf, []byte(text))
	return buf
}

// Decode reverses Encode.
func Decode(payload []byte) (string, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(raw, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	raw = raw[:n]
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: not utf-8", ErrMalformedPayload)
	}
	return string(raw), nil
}

// FromWire decodes a wire payload into the raw bytes written to a
// characteristic.
func FromWire(payload []byte) ([]byte, error) {
	text, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// Text validates a raw characteristic value, as notified by the peripheral,
// and returns it as a string.
func Text(value []byte) (string, error) {
	if !utf8.Valid(value) {
		return "", fmt.Errorf("%w: not utf-8", ErrMalformedPayload)
	}
	return string(value), nil
}
