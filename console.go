package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"dtemu/console"
	"dtemu/system"
	"dtemu/teletype"

	"github.com/jroimartin/gocui"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const refreshInterval = 250 * time.Millisecond

// runGui runs the machine behind the gocui front end. The machine starts
// once the console view exists; the interface stays up after the machine
// stopped until the user quits.
func runGui(ctx context.Context, m *system.Machine, log *logrus.Logger) error {
	gui, err := console.NewGui()
	if err != nil {
		return err
	}
	defer gui.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	ready := make(chan *teletype.Full, 1)
	gui.OnReady(func(gg *gocui.Gui) error {
		full, err := teletype.NewFull(gg, console.ConsoleView, m.Console)
		if err != nil {
			return err
		}
		ready <- full
		return nil
	})

	var runErr error
	g.Go(func() error {
		// quitting the interface stops everything
		defer cancel()
		return gui.MainLoop()
	})
	g.Go(func() error {
		var full *teletype.Full
		select {
		case full = <-ready:
		case <-ctx.Done():
			return nil
		}
		defer full.Stop()

		_ = gui.WriteConsole(fmt.Sprintf("running %s, %d cpu(s)", m.Config.Arch, m.Config.NCPUs))
		runErr = m.Run(ctx, *maxInstr)
		if runErr != nil {
			log.WithError(runErr).Error("machine stopped")
			_ = gui.WriteConsole(runErr.Error())
		}
		_ = gui.WriteConsole("machine stopped, ctrl-c to quit")
		gui.Refresh(m.Snapshot())
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(refreshInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				gui.Refresh(m.Snapshot())
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

// runHeadless connects the guest console to the terminal.
func runHeadless(ctx context.Context, m *system.Machine, log *logrus.Logger) error {
	host := teletype.NewSimple(m.Console, os.Stdin, os.Stdout, log)
	if err := host.Run(); err != nil {
		return err
	}
	defer host.Stop()
	status := console.NewSimple(os.Stderr, term.IsTerminal(int(os.Stdin.Fd())))

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return m.Run(ctx, *maxInstr)
	})
	g.Go(func() error {
		<-ctx.Done()
		m.Stop()
		return nil
	})
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		_ = status.WriteConsole(err.Error())
	}

	s := m.Snapshot()
	var b bytes.Buffer
	console.WriteStatus(&b, &s)
	_ = status.WriteConsole(b.String())
	return err
}
