package provision

import (
	"time"

	"github.com/chaz8081/choclchain-setup/internal/ble"
)

// event is anything delivered to the session loop. Worker results carry the
// generation they were started under so the loop can discard stale ones.
type event interface{ sessionEvent() }

type startScanCmd struct{}

type disconnectCmd struct{}

type sendCmd struct {
	creds Credentials
	reply chan error
}

type reportError struct{ msg string }

type preflightDone struct {
	gen uint64
	err error
}

type scanDone struct {
	gen        uint64
	peripheral ble.Peripheral
	err        error
}

type connectDone struct {
	gen  uint64
	conn *ble.ActiveConnection
	err  error
}

type sendDone struct {
	gen, sendGen uint64
	err          error
}

type notification struct {
	gen, sendGen uint64
	text         string
	at           time.Time
}

type linkLost struct{ gen uint64 }

func (startScanCmd) sessionEvent()  {}
func (disconnectCmd) sessionEvent() {}
func (sendCmd) sessionEvent()       {}
func (reportError) sessionEvent()   {}
func (preflightDone) sessionEvent() {}
func (scanDone) sessionEvent()      {}
func (connectDone) sessionEvent()   {}
func (sendDone) sessionEvent()      {}
func (notification) sessionEvent()  {}
func (linkLost) sessionEvent()      {}
