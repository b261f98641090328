package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmsafe/warden/internal/arbiter"
	"github.com/mmsafe/warden/internal/config"
	"github.com/mmsafe/warden/internal/logger"
	"github.com/mmsafe/warden/internal/probe"
	"github.com/mmsafe/warden/internal/tracker"
)

func arbitrateCmd(args []string) int {
	fs := flag.NewFlagSet("arbitrate", flag.ExitOnError)
	configFile := fs.String("config", "warden.yaml", "Path to config file")
	once := fs.Bool("once", false, "Run a single cycle and exit")
	fs.Parse(args)

	cfg, err := config.LoadAndValidate(*configFile, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, closeLog := buildLogger(cfg, "arbitrate")
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	liveness := probe.NewProcessProbe(cfg.Training.ProcessPattern, cfg.Training.ProcessRequire)
	device := probe.NewGPUProbe(cfg.GPU.DeviceClass, cfg.GPU.IdleMemoryMB, cfg.GPU.IdleUtilizationPct)
	notifier := buildNotifier(cfg, log)
	heartbeat := tracker.NewWriter(cfg.StateDir, "arbiter")

	arb := arbiter.New(
		startConfigWatcher(ctx, *configFile, cfg, true, log),
		liveness, device, notifier, heartbeat, log)

	log.Info("Arbiter started",
		logger.F("host", cfg.Hostname()),
		logger.F("launch_bin", cfg.Arbiter.Launch.Bin),
		logger.F("checkpoint_dir", cfg.Arbiter.CheckpointDir),
		logger.F("poll_interval", cfg.Arbiter.GetPollInterval().String()))

	if *once {
		arb.Tick(ctx)
		return 0
	}

	err = arb.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Arbiter exited", logger.F("error", err))
		return 1
	}
	log.Info("Arbiter stopped")
	return 0
}
