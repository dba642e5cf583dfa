package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dtemu/config"
	"dtemu/logger"
	"dtemu/memory"
	"dtemu/system"

	"github.com/bradleyjkemp/memviz"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/sirupsen/logrus"
)

const statsviewAddr = "localhost:18066"

var (
	configFile = flag.String("config", "", "machine definition `file` (lua)")
	imageFile  = flag.String("image", "", "raw binary `image`, overrides the definition")
	archName   = flag.String("arch", "", "guest architecture: mips, arm or ppc")
	logFile    = flag.String("log", "dtemu.log", "log `file`, empty for stdout")
	logLevel   = flag.String("loglevel", "info", "log level")
	headless   = flag.Bool("headless", false, "no user interface, the terminal is the guest console")
	maxInstr   = flag.Uint64("max", 0, "stop after `n` instructions, 0 for no limit")
	statsView  = flag.Bool("statsview", false, "serve go runtime statistics on "+statsviewAddr)
	memvizFile = flag.String("memviz", "", "write a graphviz dump of the machine layout to `file`")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	log := logger.New(*logFile, *logLevel)

	cfg, err := machineConfig()
	if err != nil {
		return err
	}

	m, err := system.New(cfg, nil, log)
	if err != nil {
		return err
	}
	defer m.Close()

	var image []byte
	if cfg.Image != "" {
		if image, err = os.ReadFile(cfg.Image); err != nil {
			return fmt.Errorf("image: %w", err)
		}
	}
	if err := m.Boot(image); err != nil {
		return err
	}
	log.Infof("memory map:\n%s", m.MemoryMap())

	if *memvizFile != "" {
		if err := dumpLayout(m, *memvizFile); err != nil {
			return err
		}
	}
	if *statsView {
		mgr := launchStatsview(log)
		defer mgr.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *headless {
		return runHeadless(ctx, m, log)
	}
	return runGui(ctx, m, log)
}

// machineConfig loads the definition and applies the command line
// overrides.
func machineConfig() (*config.Machine, error) {
	arch := config.MIPS
	if *archName != "" {
		arch = *archName
	}
	cfg := config.Default(arch)
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
		if *archName != "" && *archName != cfg.Arch {
			cfg.Arch = *archName
			cfg.BigEndian = *archName != config.ARM
		}
	}
	if *imageFile != "" {
		cfg.Image = *imageFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func launchStatsview(log *logrus.Logger) *statsview.ViewManager {
	viewer.SetConfiguration(viewer.WithAddr(statsviewAddr))
	mgr := statsview.New()
	go mgr.Start()
	log.Infof("stats server available at http://%s/debug/statsview", statsviewAddr)
	return mgr
}

// layout is what the memviz dump shows: the definition and the region
// table, without the backing stores.
type layout struct {
	Config  *config.Machine
	Regions []region
}

type region struct {
	Name         string
	Base, Length uint64
	RAM          bool
	Flags        memory.Flags
}

func dumpLayout(m *system.Machine, path string) error {
	l := layout{Config: m.Config}
	for _, r := range m.Mem.Regions() {
		l.Regions = append(l.Regions, region{Name: r.Name, Base: r.Base, Length: r.Length, RAM: r.IsRAM(), Flags: r.Flags})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("memviz: %w", err)
	}
	memviz.Map(f, &l)
	return f.Close()
}
