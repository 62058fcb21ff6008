package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rcourtman/fabricpulse/internal/config"
	"github.com/rcourtman/fabricpulse/internal/monitoring"
	"github.com/rs/zerolog/log"
)

// configHolder hands the latest valid configuration to the next cycle.
type configHolder struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (h *configHolder) get() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *configHolder) set(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

func cycleInterval(cfg *config.Config) time.Duration {
	if cfg.Interval <= 0 {
		return config.DefaultInterval
	}
	return cfg.Interval
}

// serve runs poll cycles until ctx is cancelled. Configuration changes,
// from the file watcher or SIGHUP, take effect at the next cycle.
func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	initLogging(cfg)

	holder := &configHolder{cfg: cfg}

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr)
	}

	if err := config.Watch(ctx, cfg.Path, holder.set); err != nil {
		log.Warn().Err(err).Msg("Config file watching disabled, use SIGHUP to reload")
	}

	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(reloadChan)

	log.Info().Str("config", cfg.Path).Dur("interval", cycleInterval(cfg)).Msg("Starting FabricPulse in serve mode")

	for {
		current := holder.get()
		runCycle(ctx, current)

		timer := time.NewTimer(cycleInterval(current))
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Info().Msg("Shutting down")
				return nil
			case <-reloadChan:
				log.Info().Msg("Received SIGHUP, reloading configuration")
				reloaded, err := config.Load(path)
				if err != nil {
					log.Error().Err(err).Msg("Reload failed, keeping previous configuration")
					continue
				}
				holder.set(reloaded)
			case <-timer.C:
				break wait
			}
		}
	}
}

func runCycle(ctx context.Context, cfg *config.Config) {
	poller, err := monitoring.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build poller, skipping cycle")
		return
	}
	if _, err := poller.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Poll cycle aborted")
	}
}
