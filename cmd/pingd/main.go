// pingd answers Minecraft Server List Ping queries on behalf of a game
// server: modern status and ping requests, the pre-netty legacy ping, and
// an admin API, MQTT telemetry and SQLite statistics around them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/api"
	"github.com/energizer-project/pingd/internal/cli"
	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/db"
	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/health"
	"github.com/energizer-project/pingd/internal/metrics"
	"github.com/energizer-project/pingd/internal/network"
	"github.com/energizer-project/pingd/internal/roster"
	"github.com/energizer-project/pingd/internal/scheduler"
	"github.com/energizer-project/pingd/internal/status"
	"github.com/energizer-project/pingd/internal/telemetry"
	"github.com/energizer-project/pingd/internal/util"
)

const (
	AppName    = "pingd"
	AppVersion = "1.0.0"
	Banner     = `
         _                 __
   ___  (_)__  ___ ____/ /
  / _ \/ / _ \/ _ '/ _  /
 / .__/_/_//_/\_, /\_,_/
/_/          /___/  v%s
 Server List Ping responder
`
	bindRetries     = 15
	shutdownTimeout = 30 * time.Second
)

func main() {
	root := cli.NewRootCommand(AppVersion, serve)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func serve(parent context.Context, configDir string) error {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured once the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting pingd")

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	appData := cfg.GetApplicationData()

	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    appData.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Core components
	eventBus := events.NewEventBus()
	players := roster.New(eventBus)
	statusSvc := status.NewService(cfg, players,
		status.WithMaxPlayersProvider(players),
		status.WithVersionProvider(players))

	m := metrics.New()
	m.WatchCache(func() (uint64, uint64) {
		st := statusSvc.Cache().Stats()
		return st.Hits, st.Misses
	})

	registry := network.NewConnectionRegistry()
	tcpListener := network.NewTCPListener(cfg, eventBus, statusSvc, registry, m)

	// Statistics are optional: a broken database only disables them
	var (
		statsDB  *db.StatsDatabase
		recorder *db.Recorder
	)
	if appData.Stats.Enabled {
		statsDB, err = db.NewStatsDatabase(appData.Stats.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open statistics database, statistics disabled")
		} else {
			recorder = db.NewRecorder(statsDB)
			recorder.Subscribe(eventBus)
		}
	}

	// Anything that can change the served payload drops the cached one
	invalidate := func(context.Context, events.Event) error {
		statusSvc.Invalidate()
		return nil
	}
	eventBus.Subscribe(events.EventRosterSynced, "status_cache", invalidate)
	eventBus.Subscribe(events.EventConfigChanged, "status_cache", func(context.Context, events.Event) error {
		statusSvc.Invalidate()
		if level, err := zerolog.ParseLevel(cfg.GetApplicationData().Logging.Level); err == nil && level != zerolog.NoLevel {
			zerolog.SetGlobalLevel(level)
		}
		return nil
	})

	watcher, err := config.NewWatcher(cfg, func() {
		eventBus.Emit(ctx, events.Event{
			Type:    events.EventConfigChanged,
			Source:  "config_watcher",
			Payload: events.ConfigChangedPayload{Section: "all", Origin: "file"},
		})
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to watch config file, hot reload disabled")
	}

	var apiServer *api.Server
	if appData.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, statusSvc, players, AppVersion)
		apiServer.SetDependencies(registry, statsDB, m)
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, eventBus, players, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var poller *roster.Poller
	if appData.Roster.SourceURL != "" {
		poller = roster.NewPoller(players, appData.Roster, m)
	}

	healthMgr := health.NewManager(cfg, eventBus, tcpListener, registry, statusSvc, players, recorder)

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting " + name)
			fn()
		}()
	}

	run("ping listener", func() {
		if err := startWithRetry(ctx, "ping listener", tcpListener.Start, bindRetries); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("ping listener: %w", err)
		}
	})

	if apiServer != nil {
		run("admin API", func() {
			if err := startWithRetry(ctx, "admin API", apiServer.Start, bindRetries); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("admin API failed after retries (non-fatal)")
			}
		})
	}

	if watcher != nil {
		run("config watcher", func() { watcher.Run(ctx) })
	}

	if mqttHandler != nil {
		run("MQTT telemetry", func() {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		})
	}

	if poller != nil {
		run("roster poller", func() { poller.Run(ctx) })
	}

	run("health check manager", func() { healthMgr.Start(ctx) })

	if statsDB != nil {
		sched := scheduler.NewScheduler(cfg, statsDB)
		run("task scheduler", func() { sched.Start(ctx) })
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	case <-parent.Done():
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.EmitSync(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})
	cancel()

	if err := tcpListener.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop ping listener")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// The health manager flushed the recorder on its way out
	if statsDB != nil {
		if err := statsDB.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close statistics database")
		}
	}

	eventBus.Stop()

	log.Info().Msg("pingd stopped")
	return runErr
}

// startWithRetry retries startFn while the port is still held by a previous
// instance.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
