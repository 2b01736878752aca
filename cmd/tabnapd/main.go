package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tabnap/tabnap/internal/api"
	"github.com/tabnap/tabnap/internal/config"
	"github.com/tabnap/tabnap/internal/engine"
	"github.com/tabnap/tabnap/internal/health"
	"github.com/tabnap/tabnap/internal/host"
	"github.com/tabnap/tabnap/internal/host/bridge"
	"github.com/tabnap/tabnap/internal/metrics"
	"github.com/tabnap/tabnap/internal/policy"
	"github.com/tabnap/tabnap/internal/registry"
	"github.com/tabnap/tabnap/internal/router"
	"github.com/tabnap/tabnap/internal/scheduler"
	"github.com/tabnap/tabnap/internal/settings"
	"github.com/tabnap/tabnap/internal/shortcuts"
	"github.com/tabnap/tabnap/internal/storage"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Development() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	if level, lvlErr := zerolog.ParseLevel(cfg.LogLevel); lvlErr == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("bridge_addr", cfg.BridgeListenAddr).
		Bool("standalone", cfg.Standalone).
		Msg("starting tabnapd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Storage
	store, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer store.Close()

	// Persistent state
	st := settings.NewStore(store, logger)
	st.Load()

	reg := registry.New(store, logger)
	if err := reg.Load(); err != nil {
		logger.Warn().Err(err).Msg("failed to load suspended tab registry, starting empty")
	}

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("database", health.DatabaseCheck(store))

	// Browser host: the extension bridge, or an in-memory host for
	// development without a browser attached.
	var (
		browser  host.Host
		notifier host.Notifier
		br       *bridge.Bridge
	)
	if cfg.Standalone {
		mem := host.NewMemHost()
		browser = mem
		notifier = mem
		logger.Info().Msg("standalone mode, using in-memory host")
	} else {
		br = bridge.New(bridge.Config{
			Addr:        cfg.BridgeListenAddr,
			Path:        cfg.BridgePath,
			CallTimeout: 10 * time.Second,
		}, logger)
		browser = br
		notifier = br
		checker.Register("bridge", health.BridgeCheck(br.IsConnected))
	}

	// Core pipeline
	m := metrics.New()
	pol := policy.New(cfg.PlaceholderURL)
	eng := engine.New(browser, reg, st, pol, m, cfg.PlaceholderURL, logger)
	sched := scheduler.New(browser, st, eng, m, cfg.PlaceholderURL, logger)

	// Settings changes retune the scan timer.
	st.OnSave(func(settings.Settings) {
		sched.Configure(ctx)
	})

	table, err := shortcuts.Load(cfg.ShortcutsPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ShortcutsPath).Msg("failed to load shortcuts")
	}

	rt := router.New(eng, st, sched, table, browser, logger)

	apiServer := api.NewServer(api.Config{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
	}, rt, checker, m, logger)

	var wg sync.WaitGroup

	// Tab lifecycle event pump
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-notifier.Events():
				if !ok {
					return
				}
				switch ev.Kind {
				case host.EventActivated:
					sched.TabActivated(ctx, ev.TabID)
				case host.EventUpdated:
					eng.HandleTabUpdated(ev.TabID, ev.URL)
				case host.EventRemoved:
					eng.HandleTabRemoved(ev.TabID)
					sched.TabRemoved(ev.TabID)
				}
			}
		}
	}()

	if br != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := br.Start(); err != nil {
				logger.Error().Err(err).Msg("bridge error")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
		}
	}()

	// Arm the first scan.
	sched.Configure(ctx)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}
	if br != nil {
		if err := br.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("bridge shutdown error")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("tabnapd stopped")
}
