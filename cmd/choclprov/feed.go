package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/chaz8081/choclchain-setup/internal/config"
	"github.com/chaz8081/choclchain-setup/internal/feed"
)

func feedClient(cfg *config.Config) *feed.Client {
	return feed.NewClient(cfg.Feed.BaseURL, 10*time.Second)
}

// watchFeed prints the latest value from p on every update until interrupted.
func watchFeed[T any](p *feed.Poller[T], show func(T)) error {
	ctx, cancel := signalContext()
	defer cancel()
	go p.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Updates():
			v, _, err := p.Latest()
			if err != nil {
				log.Printf("ERROR: %v", err)
				continue
			}
			show(v)
		}
	}
}

func runPrice(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("price", flag.ExitOnError)
	watch := fs.Bool("watch", false, "keep refreshing on the feed interval")
	fs.Parse(args)

	c := feedClient(cfg)
	show := func(p feed.Prices) {
		fmt.Printf("USD %.0f  EUR %.0f  GBP %.0f  (%d sats/$)\n", p.USD, p.EUR, p.GBP, p.SatsPerDollar())
	}
	if *watch {
		return watchFeed(feed.NewPoller("prices", cfg.Feed.Interval, c.Prices), show)
	}

	p, err := c.Prices(context.Background())
	if err != nil {
		return err
	}
	show(p)
	return nil
}

func runHeight(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("height", flag.ExitOnError)
	watch := fs.Bool("watch", false, "keep refreshing on the feed interval")
	fs.Parse(args)

	c := feedClient(cfg)
	show := func(h int64) {
		s := feed.SupplyAt(h)
		fmt.Printf("Block height %d\n", h)
		fmt.Printf("  Circulating: %.2f BTC (%.2f%% issued)\n", s.Circulating, s.PercentIssued)
		fmt.Printf("  Subsidy:     %g BTC, halving in %d blocks (~%d days)\n", s.Reward, s.BlocksToHalving, s.DaysToHalving)
	}
	if *watch {
		return watchFeed(feed.NewPoller("height", cfg.Feed.Interval, c.TipHeight), show)
	}

	h, err := c.TipHeight(context.Background())
	if err != nil {
		return err
	}
	show(h)

	if fees, err := c.Fees(context.Background()); err == nil {
		fmt.Printf("  Fees:        %d / %d / %d sat/vB (fast / 30m / 1h)\n", fees.Fastest, fees.HalfHour, fees.Hour)
	}
	return nil
}
