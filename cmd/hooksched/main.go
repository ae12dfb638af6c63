package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"hooksched/internal/api"
	"hooksched/internal/config"
	"hooksched/internal/dispatch"
	"hooksched/internal/history"
	"hooksched/internal/metrics"
	"hooksched/internal/scheduler"
	"hooksched/internal/taskstore"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "optional YAML config file")
		once    = flag.Bool("once", false, "run a single tick and exit")
		check   = flag.Bool("check", false, "lint task files and exit")
		debug   = flag.Bool("debug", false, "expose pprof on the admin server")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg)

	store := taskstore.New(cfg.TasksDir, cfg.FilePattern, cfg.Location)

	if *check {
		os.Exit(runCheck(store))
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	m := metrics.New()
	client := dispatch.New(dispatch.Config{
		BaseURL:    cfg.Gateway,
		HooksPath:  cfg.HooksPath,
		Token:      cfg.Token,
		Timeout:    cfg.DispatchTimeout,
		RatePerSec: cfg.DispatchRate,
	})

	opts := scheduler.Options{
		Interval: cfg.CheckInterval,
		Location: cfg.Location,
		Metrics:  m,
	}
	var repo history.Repository
	if cfg.HistoryDB != "" {
		db := openHistory(cfg.HistoryDB)
		defer db.Close()
		repo = history.NewSQLiteRepo(db)
		if cfg.HistoryRetention > 0 {
			if n, err := repo.Prune(context.Background(), time.Now().Add(-cfg.HistoryRetention)); err == nil {
				log.Info().Int("pruned", n).Msg("pruned dispatch history")
			}
		}
		opts.Recorder = repo
	}

	svc := scheduler.NewService(store, client, opts)
	log.Info().
		Str("tasks_dir", cfg.TasksDir).
		Str("pattern", cfg.FilePattern).
		Str("hook", client.URL()).
		Msg("scheduler configured")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		svc.RunOnce(ctx)
		if st := svc.Status(); st.LastError != "" {
			log.Error().Str("error", st.LastError).Msg("tick failed")
			os.Exit(1)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Start(ctx)
	}()

	// Admin HTTP server
	var srv *http.Server
	if cfg.AdminAddr != "" {
		srv = &http.Server{
			Addr: cfg.AdminAddr,
			Handler: api.NewServer(api.Options{
				Tasks:    store,
				Status:   svc,
				History:  repo,
				Registry: m.Registry(),
				Location: cfg.Location,
				Debug:    *debug,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.AdminAddr).Msg("admin server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("admin server")
			}
		}()
	}

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	svc.Stop()
	cancel()
	wg.Wait()
	if srv != nil {
		ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelTimeout()
		_ = srv.Shutdown(ctxTimeout)
	}
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openHistory(path string) *sql.DB {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open history db")
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := history.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	return db
}

func runCheck(store *taskstore.Dir) int {
	findings, err := scheduler.Check(context.Background(), store)
	if err != nil {
		log.Error().Err(err).Msg("list task files")
		return 1
	}
	for _, f := range findings {
		fmt.Fprintln(os.Stderr, f)
	}
	if scheduler.HasErrors(findings) {
		return 1
	}
	log.Info().Int("findings", len(findings)).Str("dir", store.Root()).Msg("task files ok")
	return 0
}
