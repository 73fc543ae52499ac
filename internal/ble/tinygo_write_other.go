//go:build darwin || windows

package ble

// WriteRequest performs an acknowledged write with tinygo's native backend.
func (c deviceCharacteristic) WriteRequest(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
