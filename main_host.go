//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-tty"
	"golang.org/x/sync/errgroup"

	"starlet/app"
	"starlet/hal"
)

func main() {
	var cfg hal.HeadlessConfig
	var appCfg app.Config
	var ramKiB uint
	var console bool
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Frame rate in headless mode.")
	flag.Uint64Var(&cfg.Frames, "frames", 0, "Stop after N frames in headless mode (0 = run forever).")
	flag.IntVar(&appCfg.StepsPerFrame, "steps", 64, "Scheduler steps per frame.")
	flag.UintVar(&ramKiB, "ram", uint(hal.DefaultRAMSize>>10), "Simulated RAM in KiB.")
	flag.BoolVar(&console, "console", false, "Read monitor commands from the terminal.")
	flag.BoolVar(&appCfg.Demo, "demo", true, "Load the demo modules.")
	flag.Parse()

	cfg.Machine.RAMSize = uint32(ramKiB) << 10

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if console {
		lines := make(chan string, 16)
		appCfg.Commands = lines
		g.Go(func() error { return readConsole(ctx, lines) })
	}

	boot := func(h hal.HAL) (func() error, error) {
		sys, err := app.New(h, appCfg)
		if err != nil {
			return nil, err
		}
		return sys.Step, nil
	}

	if cfg.Enabled {
		g.Go(func() error {
			defer stop()
			err := hal.RunHeadless(ctx, boot, cfg)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		// The window owns the main goroutine.
		err := hal.RunWindow(boot, cfg.Machine)
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// readConsole forwards terminal lines until ctx ends or the terminal closes.
func readConsole(ctx context.Context, lines chan<- string) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	go func() {
		<-ctx.Done()
		t.Close()
	}()

	for {
		fmt.Fprint(t.Output(), "starlet> ")
		s, err := t.ReadString()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("console: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		select {
		case lines <- s:
		case <-ctx.Done():
			return nil
		}
	}
}
