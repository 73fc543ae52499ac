package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/chaz8081/choclchain-setup/internal/config"
	"github.com/chaz8081/choclchain-setup/internal/display"
)

func displayStore() *display.Store {
	return display.NewStore(filepath.Join(config.DefaultConfigDir(), "display.yaml"))
}

// displayClient returns a client for the saved dashboard address, falling
// back to display.address from the config.
func displayClient(cfg *config.Config) (*display.Client, error) {
	addr, err := displayStore().Load()
	if err != nil {
		return nil, err
	}
	if addr == "" {
		addr = cfg.Display.Address
	}
	if addr == "" {
		return nil, errors.New("no dashboard address saved; run 'choclprov display address <IP>' first")
	}
	return display.NewClient(addr, cfg.Display.Timeout)
}

func runDisplay(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: choclprov display status|page N|address IP")
	}
	ctx := context.Background()

	switch args[0] {
	case "address":
		if len(args) != 2 {
			return errors.New("usage: choclprov display address IP")
		}
		c, err := display.NewClient(args[1], cfg.Display.Timeout)
		if err != nil {
			return err
		}
		st, err := displayStore().Connect(ctx, c)
		if err != nil {
			return fmt.Errorf("connection failed, check IP address and network: %w", err)
		}
		fmt.Printf("Connected to dashboard at %s, showing page %d (%s)\n", c.Address(), st.Page, st.Page)
		return nil

	case "status":
		c, err := displayClient(cfg)
		if err != nil {
			return err
		}
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Dashboard %s is showing page %d (%s)\n", c.Address(), st.Page, st.Page)
		return nil

	case "page":
		if len(args) != 2 {
			return errors.New("usage: choclprov display page N")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("page must be a number: %w", err)
		}
		c, err := displayClient(cfg)
		if err != nil {
			return err
		}
		if err := c.SetPage(ctx, display.Page(n)); err != nil {
			if errors.Is(err, display.ErrInvalidPage) {
				printPages()
			}
			return err
		}
		fmt.Printf("Display changed to page %d (%s)\n", n, display.Page(n))
		return nil

	case "pages":
		printPages()
		return nil

	default:
		return fmt.Errorf("unknown display command %q", args[0])
	}
}

func printPages() {
	fmt.Println("Pages:")
	for _, p := range display.Pages() {
		fmt.Printf("  %d  %s\n", int(p), p)
	}
}
