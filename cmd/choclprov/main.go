// Command choclprov sets up a ChoclChain dashboard: it finds the device over
// Bluetooth LE, hands it WiFi credentials, and then drives its display over
// the local network.
//
// Usage:
//
//	choclprov [-config path] <command> [args]
//
// Commands:
//
//	scan                              find and connect to the device, then disconnect
//	provision -ssid NAME [-password]  send WiFi credentials and wait for the result
//	display status|page N|address IP  talk to the dashboard over WiFi
//	price                             print current bitcoin prices
//	height                            print chain tip height and supply
//	init                              write the default config file
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/chaz8081/choclchain-setup/internal/config"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/choclchain-setup/config.yaml)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "init" {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	switch cmd {
	case "scan":
		err = runScan(cfg)
	case "provision":
		err = runProvision(cfg, args)
	case "display":
		err = runDisplay(cfg, args)
	case "price":
		err = runPrice(cfg, args)
	case "height":
		err = runHeight(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: choclprov [-config path] <scan|provision|display|price|height|init> [args]")
	flag.PrintDefaults()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	return config.Default(), nil
}

// printBanner displays the device identity being targeted.
func printBanner(cfg *config.Config) {
	fmt.Println("=== choclprov ===")
	fmt.Printf("  Device:  %s\n", cfg.Device.Name)
	fmt.Printf("  Service: %s\n", cfg.Device.ServiceUUID)
	fmt.Printf("  Scan:    %s timeout\n", cfg.Scan.Timeout)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
