package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scarlet/internal/driver"
	"scarlet/internal/observability"
	"scarlet/internal/realtime"
	"scarlet/internal/session"
	"scarlet/internal/store"
	"scarlet/internal/watcher"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveFlags struct {
	addr     string
	scenario string
	redis    string
	noWatch  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay server.

Sessions are driven by the scripted browser. Without --scenario the built-in
scenario is used; with it, the file is reloaded whenever it changes unless
--no-watch is given. Completed schedules are kept in memory, or in Redis when
--redis is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "listen address (overrides ADDR)")
	f.StringVar(&serveFlags.scenario, "scenario", "", "scenario YAML file (overrides SCENARIO_FILE)")
	f.StringVar(&serveFlags.redis, "redis", "", "Redis address for results (overrides REDIS_ADDR)")
	f.BoolVar(&serveFlags.noWatch, "no-watch", false, "do not reload the scenario file on change")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveFlags.addr != "" {
		cfg.Addr = serveFlags.addr
	}
	if serveFlags.scenario != "" {
		cfg.ScenarioFile = serveFlags.scenario
	}
	if serveFlags.redis != "" {
		cfg.RedisAddr = serveFlags.redis
	}
	if serveFlags.noWatch {
		cfg.WatchScenario = false
	}

	log := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	scenarios := driver.NewScenarioSource(driver.DefaultScenario())
	if cfg.ScenarioFile != "" {
		if err := scenarios.Reload(cfg.ScenarioFile); err != nil {
			return err
		}
	}

	var results store.Store = store.NewMemory()
	if cfg.RedisAddr != "" {
		rs := store.NewRedis(cfg.RedisAddr, cfg.ResultTTL)
		defer rs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rs.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		results = rs
	}

	sessLog := log.With().Str("component", "session").Logger()
	sessMgr := session.NewManager(session.Options{
		Factory:     scenarios.Factory(),
		Store:       results,
		Metrics:     metrics,
		Logger:      &sessLog,
		HistorySize: cfg.HistorySize,
	})

	if cfg.ScenarioFile != "" && cfg.WatchScenario {
		fileWatch := watcher.New(func(path string) {
			if err := scenarios.Reload(path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("scenario reload failed, keeping previous")
				return
			}
			log.Info().Str("path", path).Msg("scenario reloaded")
		}, log.With().Str("component", "watcher").Logger())
		if err := fileWatch.Watch(cfg.ScenarioFile); err != nil {
			log.Warn().Err(err).Msg("scenario watch disabled")
		}
		defer fileWatch.Shutdown()
	}

	rtLog := log.With().Str("component", "realtime").Logger()
	rtServer := realtime.New(realtime.Options{
		Sessions:      sessMgr,
		Metrics:       metrics,
		Logger:        &rtLog,
		FrameInterval: cfg.FrameInterval,
		AllowOrigin:   cfg.CORSAllowOrigin,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: rtServer.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		sessMgr.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Str("scenario", cfg.ScenarioFile).Msg("relay listening")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
