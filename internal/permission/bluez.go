package permission

import (
	"context"
	"fmt"
)

// BusChecker reports whether the BlueZ daemon is reachable.
// *bluez.Client satisfies it.
type BusChecker interface {
	Available(ctx context.Context) (bool, error)
}

// BlueZRequester grants BlueZAccess when bluetoothd answers on the system
// bus. Access on Linux is governed by D-Bus policy, so there is nothing to
// prompt for: Request re-checks instead.
type BlueZRequester struct {
	Bus BusChecker
}

func (r BlueZRequester) Granted(ctx context.Context, c Capability) (bool, error) {
	if c != BlueZAccess {
		return false, fmt.Errorf("permission: %s is not available on linux", c)
	}
	return r.Bus.Available(ctx)
}

func (r BlueZRequester) Request(ctx context.Context, caps []Capability) (map[Capability]bool, error) {
	out := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		ok, err := r.Granted(ctx, c)
		if err != nil {
			return nil, err
		}
		out[c] = ok
	}
	return out, nil
}

var _ Requester = BlueZRequester{}
