package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/slicknat/slnat/config"
	"github.com/slicknat/slnat/mapping"
	"github.com/slicknat/slnat/metrics"
	"github.com/slicknat/slnat/resolver"
	"github.com/slicknat/slnat/server"
)

const (
	ProgName = "slnatd"
)

var (
	version = "undefined"

	showVersion = flag.Bool("version", false, "show program version and exit")
	configPath  = flag.String("config", config.DefaultPath, "configuration file path (env SLNATD_CONFIG)")
	procPath    = flag.String("proc", mapping.DefaultSourcePath, "kernel mapping table path, overrides proc_path (env SLNATD_PROC_PATH)")
	logLevel    = flag.String("log-level", "", "error, warning, info or debug, overrides log_level (env SLNATD_LOG_LEVEL)")
)

// fromEnv fills a flag left unset on the command line from the
// environment and reports whether the flag now carries an explicit value.
func fromEnv(name, key string, p *string) bool {
	if flag.CommandLine.Changed(name) {
		return true
	}
	if v := os.Getenv(key); v != "" {
		*p = v
		return true
	}
	return false
}

func run() int {
	flag.Parse()
	fromEnv("config", "SLNATD_CONFIG", configPath)
	procSet := fromEnv("proc", "SLNATD_PROC_PATH", procPath)
	fromEnv("log-level", "SLNATD_LOG_LEVEL", logLevel)

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "SLNATD",
		ReportTimestamp: true,
		TimeFormat:      time.StampMicro,
	})
	log.SetDefault(logger)

	cfg, cfgErr := config.Load(*configPath)
	applyOverrides(cfg, procSet, logger)

	if cfgErr != nil {
		logger.Warn("configuration incomplete, using defaults where needed", "path", *configPath, "error", cfgErr)
	}
	for _, p := range cfg.Problems {
		logger.Warn("ignoring config line", "path", *configPath, "line", p.Line, "text", p.Text, "reason", p.Reason)
	}
	for _, ap := range cfg.Listen {
		logger.Info("will listen", "addr", ap)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		refreshObserver mapping.Observer
		requestObserver server.Observer
	)
	if cfg.MetricsListen != "" {
		m := metrics.New()
		refreshObserver, requestObserver = m, m
		ms := metrics.NewServer(cfg.MetricsListen, m, logger.With("component", "metrics"))
		go ms.ListenAndServe()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ms.Shutdown(shutdownCtx)
		}()
	}

	var snapshot mapping.Snapshotter
	if cfg.StateDB != "" {
		ensureDir(cfg.StateDB, logger)
		db, err := mapping.NewSQLiteSnapshot(cfg.StateDB)
		if err != nil {
			logger.Error("can't open mapping snapshot database", "dir", cfg.StateDB, "error", err)
			return 1
		}
		defer db.Close()
		snapshot = db
	}

	refresher := mapping.NewRefresher(&mapping.RefresherConfig{
		Source:   mapping.FileSource(cfg.ProcPath),
		Interval: cfg.RefreshInterval,
		Logger:   logger.With("component", "refresher"),
		Observer: refreshObserver,
		Snapshot: snapshot,
	})
	if _, err := refresher.Refresh(); err != nil && snapshot != nil {
		if _, err := refresher.Restore(); err != nil && !errors.Is(err, mapping.ErrNoSnapshot) {
			logger.Warn("can't restore mapping snapshot", "error", err)
		}
	}

	srv, err := server.New(ctx, &server.Config{
		ListenAddrs:   cfg.Listen,
		Resolver:      resolver.New(refresher.Store()),
		Logger:        logger.With("component", "server"),
		Observer:      requestObserver,
		ClientTimeout: cfg.ClientTimeout,
	})
	if err != nil {
		logger.Error("unable to start server", "error", err)
		return 1
	}
	defer srv.Close()
	logger.Info("SlickNat daemon started", "listeners", len(srv.Addrs()))

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		refresher.Run(ctx)
	}()

	serveErr := srv.Serve()
	// The snapshot database closes on return; let the refresher finish first.
	stop()
	<-refreshDone

	if serveErr != nil {
		logger.Error("server stopped", "error", serveErr)
		return 1
	}
	logger.Info("shutting down")
	return 0
}

// applyOverrides lets explicit flags and the environment win over the file.
func applyOverrides(cfg *config.Config, procSet bool, logger *log.Logger) {
	if procSet {
		cfg.ProcPath = *procPath
	}
	if *logLevel != "" {
		lvl, ok := config.ParseLevel(*logLevel)
		if !ok {
			logger.Warn("unknown log level, using info", "level", *logLevel)
		}
		cfg.LogLevel = lvl
	}
	logger.SetLevel(cfg.LogLevel)
}

func ensureDir(path string, logger *log.Logger) {
	if err := os.MkdirAll(path, 0700); err != nil {
		logger.Fatal("failed to create database directory", "dir", path, "error", err)
	}
}

func main() {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env")
	}
	os.Exit(run())
}
