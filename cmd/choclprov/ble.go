package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/choclchain-setup/internal/ble"
	"github.com/chaz8081/choclchain-setup/internal/bluez"
	"github.com/chaz8081/choclchain-setup/internal/config"
	"github.com/chaz8081/choclchain-setup/internal/permission"
	"github.com/chaz8081/choclchain-setup/internal/provision"
)

// joinTimeout bounds how long provision waits for the device to report the
// outcome of its WiFi join.
const joinTimeout = 45 * time.Second

func identity(cfg *config.Config) ble.Identity {
	return ble.Identity{
		DeviceName:     cfg.Device.Name,
		ServiceUUID:    cfg.Device.ServiceUUID,
		SSIDCharUUID:   cfg.Device.SSIDCharUUID,
		PassCharUUID:   cfg.Device.PassCharUUID,
		StatusCharUUID: cfg.Device.StatusCharUUID,
	}
}

// startSession wires the BLE stack for this platform and starts a session
// loop. The returned stop function releases everything.
func startSession(ctx context.Context, cfg *config.Config) (*provision.Session, func()) {
	var (
		probe     ble.PlatformProbe
		requester permission.Requester
		closers   []func() error
	)
	if runtime.GOOS == "linux" {
		bz, err := bluez.Dial(cfg.BlueZ.Adapter)
		if err != nil {
			log.Printf("BlueZ not reachable over D-Bus: %v", err)
		} else {
			probe = bz
			requester = permission.BlueZRequester{Bus: bz}
			closers = append(closers, bz.Close)
		}
	}

	adapter := ble.NewTinyGoAdapter(probe)
	id := identity(cfg)
	gate := permission.NewGate(permission.Platform{OS: runtime.GOOS}, requester)
	opts := provision.Options{
		DeviceName:     id.DeviceName,
		ScanTimeout:    cfg.Scan.Timeout,
		ConnectTimeout: cfg.Connect.Timeout,
		WriteTimeout:   cfg.Write.Timeout,
	}
	s := provision.New(gate, adapter, ble.NewScanner(adapter), ble.NewManager(adapter, id), opts)
	go s.Run(ctx)

	return s, func() {
		s.Close()
		<-s.Done()
		for _, c := range closers {
			c()
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// awaitConnected follows a fresh session's updates until the device is
// connected or the attempt fails.
func awaitConnected(ctx context.Context, s *provision.Session, name string) (provision.Snapshot, error) {
	log.Printf("Scanning for %s...", name)
	for {
		snap := s.Snapshot()
		if snap.State == provision.Connected {
			return snap, nil
		}
		if snap.State == provision.Disconnected && snap.Error != "" {
			return snap, errors.New(snap.Error)
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-s.Updates():
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func runScan(cfg *config.Config) error {
	printBanner(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	s, stop := startSession(ctx, cfg)
	defer stop()

	s.StartScan()
	snap, err := awaitConnected(ctx, s, cfg.Device.Name)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s (%s, RSSI %d dBm)\n", snap.Device.Name, snap.Device.Address, snap.Device.RSSI)
	s.Disconnect()
	return nil
}

func runProvision(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	ssid := fs.String("ssid", "", "WiFi network name")
	password := fs.String("password", "", "WiFi password (prompted if omitted)")
	fs.Parse(args)

	creds := provision.Credentials{SSID: *ssid, Passphrase: *password}
	passwordSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "password" {
			passwordSet = true
		}
	})
	if !passwordSet {
		fmt.Printf("WiFi password for %q (empty for an open network): ", *ssid)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		creds.Passphrase = strings.TrimRight(line, "\r\n")
	}

	// Fail fast before touching the radio.
	if err := creds.Validate(); err != nil {
		var verr *provision.ValidationError
		if errors.As(err, &verr) {
			return errors.New(verr.Hint)
		}
		return err
	}

	printBanner(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	s, stop := startSession(ctx, cfg)
	defer stop()

	s.StartScan()
	snap, err := awaitConnected(ctx, s, cfg.Device.Name)
	if err != nil {
		return err
	}
	log.Printf("Connected to %s (%s)", snap.Device.Name, snap.Device.Address)

	if err := s.SendCredentials(creds); err != nil {
		return err
	}
	log.Println("Sending credentials...")

	deadline := time.After(joinTimeout)
	last := provision.StatusNone
	delivered := false
	for {
		snap := s.Snapshot()
		if snap.State != provision.Connected {
			return errors.New(snap.Error)
		}
		if !snap.Sending && snap.Error != "" {
			return errors.New(snap.Error)
		}
		if !snap.Sending && !delivered {
			delivered = true
			log.Println("Credentials delivered, waiting for the device to join...")
		}
		if snap.WifiStatus != last {
			last = snap.WifiStatus
			log.Println(last.Describe())
		}
		if last.Terminal() {
			s.Disconnect()
			if last == provision.StatusFailed {
				return errors.New(last.Describe())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("no WiFi status from %s after %s", cfg.Device.Name, joinTimeout)
		case <-s.Updates():
		case <-time.After(250 * time.Millisecond):
		}
	}
}
