package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/evs-hal/displayd/internal/arbiter"
	"github.com/evs-hal/displayd/internal/compositor"
	"github.com/evs-hal/displayd/internal/config"
	"github.com/evs-hal/displayd/internal/display"
	"github.com/evs-hal/displayd/internal/displaysvc"
	"github.com/evs-hal/displayd/internal/gralloc"
	"github.com/evs-hal/displayd/internal/health"
	"github.com/evs-hal/displayd/internal/logging"
	"github.com/evs-hal/displayd/internal/server"
)

func runDaemon() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	log := logging.L("main")
	log.Info("starting evs-displayd", "version", version, "backend", cfg.Backend)

	factory, err := buildFactory(cfg)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor()
	monitor.Update("display", health.Degraded, "no display open")

	arb := arbiter.New(factory, monitor)
	srv := server.New(cfg.ListenAddr, arb, monitor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)

	// Whatever is still open must end up dead with its buffers released.
	if d, ok := arb.Display(); ok {
		d.ForceShutdown()
	}
	log.Info("shut down")
	return err
}

func initLogging(cfg *config.Config) error {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			return err
		}
		out = logging.TeeWriter(os.Stderr, rw)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return nil
}

// buildFactory wires the configured backend. The display service and the
// buffer driver outlive individual sessions so preemption tears down buffers
// without tearing down the service connection.
func buildFactory(cfg *config.Config) (arbiter.Factory, error) {
	switch cfg.Backend {
	case config.BackendDirect:
		svc := displaysvc.NewLoopback()
		driver := gralloc.NewShmDriver()
		if err := driver.Init(); err != nil {
			return nil, fmt.Errorf("init buffer driver: %w", err)
		}
		return func(onStateChange func(display.State)) (display.Display, error) {
			d := display.NewDirect(display.DirectOptions{
				Info:          display.DefaultDesc(),
				Width:         cfg.DisplayWidth,
				Height:        cfg.DisplayHeight,
				Format:        gralloc.FormatRGBA8888,
				BufferCount:   cfg.DisplayBufferNum,
				Connect:       func() (displaysvc.Service, error) { return svc, nil },
				Driver:        driver,
				OnStateChange: onStateChange,
			})
			if !d.InitializePool() {
				d.ForceShutdown()
				return nil, fmt.Errorf("display buffer pool initialization failed")
			}
			return d, nil
		}, nil

	case config.BackendProxy:
		return func(onStateChange func(display.State)) (display.Display, error) {
			return display.NewProxy(display.ProxyOptions{
				Info:          display.DefaultDesc(),
				DisplayID:     cfg.DisplayID,
				Format:        gralloc.FormatRGBA8888,
				Allocator:     gralloc.NewShmAllocator(),
				Window:        compositor.NewX11Window(),
				OnStateChange: onStateChange,
			}), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
