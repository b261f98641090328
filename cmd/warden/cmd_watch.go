package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmsafe/warden/internal/config"
	"github.com/mmsafe/warden/internal/logger"
	"github.com/mmsafe/warden/internal/probe"
	"github.com/mmsafe/warden/internal/tracker"
	"github.com/mmsafe/warden/internal/watchdog"
)

func watchCmd(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "warden.yaml", "Path to config file")
	once := fs.Bool("once", false, "Run a single cycle and exit")
	fs.Parse(args)

	cfg, err := config.LoadAndValidate(*configFile, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, closeLog := buildLogger(cfg, "watch")
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	liveness := probe.NewProcessProbe(cfg.Training.ProcessPattern, cfg.Training.ProcessRequire)
	notifier := buildNotifier(cfg, log)
	heartbeat := tracker.NewWriter(cfg.StateDir, "watchdog")

	monitor := watchdog.NewMonitor(
		startConfigWatcher(ctx, *configFile, cfg, false, log),
		liveness, notifier, heartbeat, log)

	log.Info("Watchdog started",
		logger.F("host", cfg.Hostname()),
		logger.F("status_file", cfg.Telemetry.StatusFile),
		logger.F("poll_interval", cfg.Watchdog.GetPollInterval().String()))

	if *once {
		monitor.Tick(ctx, time.Now())
		return 0
	}

	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Watchdog exited", logger.F("error", err))
		return 1
	}
	log.Info("Watchdog stopped")
	return 0
}
