package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mmsafe/warden/internal/config"
	"github.com/mmsafe/warden/internal/logger"
	"github.com/mmsafe/warden/internal/notify"
)

// buildLogger combines stdout with an append-only file under the
// configured log dir. Returns a close func for the file handle; if
// the file cannot be opened, logging degrades to stdout only.
func buildLogger(cfg *config.Config, name string) (logger.Logger, func()) {
	level := logger.ParseLevel(cfg.LogLevel)
	stdout := logger.NewStdout(level)

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		stdout.Warn("Could not create log dir, logging to stdout only",
			logger.F("dir", cfg.LogDir), logger.F("error", err))
		return stdout, func() {}
	}

	path := filepath.Join(cfg.LogDir, fmt.Sprintf("warden_%s.log", name))
	file, err := logger.NewFile(path, level)
	if err != nil {
		stdout.Warn("Could not open log file, logging to stdout only",
			logger.F("path", path), logger.F("error", err))
		return stdout, func() {}
	}
	return logger.NewMulti(stdout, file), func() { file.Close() }
}

// buildNotifier returns a Telegram notifier when a bot token is
// configured, a no-op otherwise.
func buildNotifier(cfg *config.Config, log logger.Logger) notify.Notifier {
	if cfg.Telegram.Token == "" {
		log.Info("No Telegram token configured, alerts will be logged only")
		return notify.Noop{}
	}
	return notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID,
		cfg.Telegram.APIBase, cfg.Hostname(), log)
}

// startConfigWatcher wires hot reload for the config file. On any
// failure it logs and falls back to the startup config, returning a
// static accessor.
func startConfigWatcher(ctx context.Context, path string, cfg *config.Config, forArbiter bool, log logger.Logger) func() *config.Config {
	static := func() *config.Config { return cfg }

	watcher, err := config.NewWatcher(path, cfg, forArbiter)
	if err != nil {
		log.Warn("Config hot-reload unavailable", logger.F("error", err))
		return static
	}
	if err := watcher.Start(ctx); err != nil {
		log.Warn("Config hot-reload unavailable", logger.F("error", err))
		return static
	}

	go func() {
		for ev := range watcher.Events() {
			if ev.Error != nil {
				log.Warn("Config reload failed, keeping last good config",
					logger.F("error", ev.Error))
				continue
			}
			log.Info("Config reloaded", logger.F("path", path))
		}
	}()

	return watcher.Current
}
