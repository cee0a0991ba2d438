package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iudanet/peersync/internal/channel"
	"github.com/iudanet/peersync/internal/client/iocli"
	"github.com/iudanet/peersync/internal/config"
	"github.com/iudanet/peersync/internal/crdt"
	"github.com/iudanet/peersync/internal/discovery"
	"github.com/iudanet/peersync/internal/identity"
	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/orchestrator"
	"github.com/iudanet/peersync/internal/pairing"
	"github.com/iudanet/peersync/internal/server"
	"github.com/iudanet/peersync/internal/server/middleware"
	"github.com/iudanet/peersync/internal/storage"
	"github.com/iudanet/peersync/internal/storage/boltdb"
	"github.com/iudanet/peersync/internal/storage/keyfile"
	"github.com/iudanet/peersync/internal/storage/sqlite"
	"github.com/iudanet/peersync/internal/transport/ws"
	"github.com/iudanet/peersync/internal/trust"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Имена файлов в data_dir
const (
	identityFile  = "identity.json"
	boltFile      = "peersync.db"
	documentsFile = "documents.db"
)

const handshakeTimeout = 10 * time.Second

func main() {
	// Parse flags
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to config file (toml, json or yaml)")
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	loader := config.NewLoader(configPath, slog.Default())
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, level, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	// Загрузчик создан со slog.Default(), после SetDefault он пишет в новый handler
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	passphrase, err := iocli.ReadPassphrase(iocli.PassphraseSource{
		IO:       iocli.NewStdio(),
		File:     cfg.Identity.PassphraseFile,
		Terminal: iocli.StdinIsTerminal(),
	})
	if err != nil {
		return err
	}

	id, err := identity.LoadOrCreate(ctx, keyfile.New(filepath.Join(cfg.DataDir, identityFile)), passphrase, logger)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	bolt, err := boltdb.New(ctx, filepath.Join(cfg.DataDir, boltFile))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := bolt.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	docs, closeDocs, err := openDocuments(ctx, cfg, bolt)
	if err != nil {
		return err
	}
	defer closeDocs()

	tm, err := trust.NewManager(ctx, bolt, id.DeviceID(), logger)
	if err != nil {
		return fmt.Errorf("failed to load trusted devices: %w", err)
	}
	ch := channel.New(id, tm, logger)
	store := crdt.New(id.DeviceID(), docs, ch, ch, logger)

	deviceType := models.DeviceType(cfg.Device.Type)
	deps := orchestrator.Deps{
		Identity:  id,
		Trust:     tm,
		Channel:   ch,
		Store:     store,
		Dialer:    ws.NewDialer(handshakeTimeout),
		Addresses: bolt,
	}

	if cfg.Discovery.Enabled {
		disc := discovery.New(discovery.Options{
			Service:      cfg.Discovery.Service,
			DeviceID:     id.DeviceID(),
			Name:         cfg.Device.Name,
			DeviceType:   deviceType,
			Capabilities: cfg.Device.Capabilities,
			Port:         cfg.Sync.Port,
		}, logger)
		if err := disc.Announce(); err != nil {
			logger.Warn("mDNS announce failed, continuing without it", "error", err)
		}
		defer disc.Shutdown()
		deps.Discovery = disc
	}

	engine := orchestrator.New(deps, orchestrator.Options{
		Registerer:       prometheus.DefaultRegisterer,
		Name:             cfg.Device.Name,
		DeviceType:       deviceType,
		Capabilities:     cfg.Device.Capabilities,
		Port:             cfg.Sync.Port,
		OutboxSize:       cfg.Sync.OutboxSize,
		SendTimeout:      cfg.Sync.SendTimeout.Duration,
		HandshakeTimeout: handshakeTimeout,
		DeviceTimeout:    cfg.Sync.DeviceTimeout.Duration,
		BackoffBase:      cfg.Sync.BackoffBase.Duration,
		BackoffMax:       cfg.Sync.BackoffMax.Duration,
	}, logger)
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	syncLimiter := middleware.NewRateLimiter(cfg.Sync.RateLimit, time.Minute, logger)
	defer syncLimiter.Stop()
	controlLimiter := middleware.NewRateLimiter(cfg.Control.RateLimit, cfg.Control.RateWindow.Duration, logger)
	defer controlLimiter.Stop()

	loader.OnChange(func(c *config.Config) {
		if lvl, err := config.ParseLevel(c.Log.Level); err == nil {
			level.Set(lvl)
		}
		syncLimiter.SetLimit(c.Sync.RateLimit, time.Minute)
		controlLimiter.SetLimit(c.Control.RateLimit, c.Control.RateWindow.Duration)
		logger.Info("Config reloaded", "log_level", c.Log.Level)
	})
	if configPath != "" {
		if err := loader.Watch(ctx); err != nil {
			logger.Warn("Config watch disabled", "error", err)
		}
	}
	defer func() {
		if err := loader.Close(); err != nil {
			logger.Error("Failed to stop config watcher", "error", err)
		}
	}()

	syncSrv := server.New("sync", cfg.SyncAddr(), server.NewSyncRouter(engine, syncLimiter, logger), logger)
	controlSrv := server.New("control", cfg.Control.Listen, server.NewControlRouter(server.ControlDeps{
		Node:      engine,
		Trust:     tm,
		Documents: store,
		Pairing:   pairing.NewService(id, cfg.Device.Name, deviceType, pairing.DefaultTTL),
		Limiter:   controlLimiter,
		Token:     cfg.Control.Token,
	}, logger), logger)

	if cfg.Control.Token == "" {
		logger.Warn("Control API token is empty, authentication disabled", "listen", cfg.Control.Listen)
	}
	logger.Info("Node started",
		"version", Version,
		"device_id", id.DeviceID(),
		"sync", cfg.SyncAddr(),
		"control", cfg.Control.Listen)

	return runServers(ctx, syncSrv, controlSrv)
}

// openDocuments открывает хранилище документов по storage.documents
func openDocuments(ctx context.Context, cfg *config.Config, bolt *boltdb.Storage) (storage.DocumentStorage, func(), error) {
	if cfg.Storage.Documents == config.DocumentsBolt {
		return bolt, func() {}, nil
	}

	db, err := sqlite.New(ctx, filepath.Join(cfg.DataDir, documentsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open documents database: %w", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close documents database", "error", err)
		}
	}, nil
}

// runServers запускает слушатели и ждет остановки. Ошибка одного останавливает остальные.
func runServers(ctx context.Context, servers ...*server.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			errCh <- srv.Run(ctx)
		}()
	}

	var errs []error
	for range servers {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
			cancel()
		}
	}
	return errors.Join(errs...)
}

func printVersion() {
	fmt.Printf("PeerSync Node\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
