// Command test-scan is a manual test for BLE discovery.
// It prints every advertisement seen for a few seconds and marks the ones
// that would match the provisioning device name.
//
// Usage:
//
//	go run ./cmd/test-scan [--name ChoclChain] [--duration 10s]
package main

import (
	"context"
	"flag"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/chaz8081/choclchain-setup/internal/ble"
	"github.com/chaz8081/choclchain-setup/internal/bluez"
)

func main() {
	name := flag.String("name", ble.DeviceName, "device name to highlight")
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	flag.Parse()

	var probe ble.PlatformProbe
	if runtime.GOOS == "linux" {
		if bz, err := bluez.Dial(""); err == nil {
			defer bz.Close()
			probe = bz
		} else {
			fmt.Printf("BlueZ probe unavailable: %v\n", err)
		}
	}

	adapter := ble.NewTinyGoAdapter(probe)
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	on, err := adapter.PoweredOn(ctx)
	if err != nil || !on {
		fmt.Printf("Bluetooth is not available (powered=%v, err=%v)\n", on, err)
		return
	}

	fmt.Printf("Scanning for %s...\n", *duration)

	var mu sync.Mutex
	seen := make(map[string]bool)
	err = adapter.Scan(ctx, func(adv ble.Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		if seen[adv.Address] {
			return
		}
		seen[adv.Address] = true

		mark := " "
		if adv.Name == *name || adv.LocalName == *name {
			mark = "*"
		}
		fmt.Printf("%s %-20s %4d dBm  name=%q local=%q\n", mark, adv.Address, adv.RSSI, adv.Name, adv.LocalName)
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	fmt.Printf("\nDone! %d devices seen.\n", len(seen))
}
