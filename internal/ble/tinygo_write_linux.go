//go:build linux

package ble

import (
	"context"
	"errors"
	"time"
)

// writeRequestTimeout bounds a single BlueZ WriteValue call. Manager.Write
// applies the caller's own deadline on top.
const writeRequestTimeout = 30 * time.Second

// WriteRequest performs an acknowledged write through BlueZ. tinygo's Linux
// backend only offers write-without-response.
func (c deviceCharacteristic) WriteRequest(data []byte) error {
	if c.probe == nil {
		return errors.New("ble: acknowledged writes need BlueZ on the system bus")
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeRequestTimeout)
	defer cancel()
	return c.probe.WriteCharacteristic(ctx, c.address, c.uuid, data)
}
