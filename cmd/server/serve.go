package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/companychat/internal/directory"
	"github.com/Tyrowin/companychat/internal/logging"
	"github.com/Tyrowin/companychat/internal/metrics"
	"github.com/Tyrowin/companychat/internal/server"
	"github.com/Tyrowin/companychat/internal/store"
	redisstore "github.com/Tyrowin/companychat/internal/store/redis"
	"github.com/Tyrowin/companychat/internal/store/sqlstore"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: "Run the chat server. Settings come from defaults, then the YAML file " +
			"named by --config or CONFIG_FILE, then environment variables, then flags.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	cmd.Flags().String("port", "", "listen address, e.g. :8080")
	cmd.Flags().String("store", "", "message store: memory, postgres or sqlite")
	cmd.Flags().String("postgres-dsn", "", "Postgres connection string")
	cmd.Flags().String("sqlite-path", "", "SQLite database file")
	cmd.Flags().String("redis", "", "Redis address for the history cache")
	cmd.Flags().String("directory", "", "path to the YAML user directory")
	cmd.Flags().String("log-level", "", "debug, info, warn or error")
	cmd.Flags().String("log-format", "", "text or json")
	cmd.Flags().Bool("require-token", false, "refuse websocket handshakes without a directory token")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	log := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	dir, err := directory.Load(cfg.DirectoryFile)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Config:    *cfg,
		Store:     st,
		Directory: dir,
		Logger:    log,
		Metrics:   metrics.New(),
	})
	srv.Start()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}

func applyFlags(cmd *cobra.Command, cfg *server.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("port", &cfg.Port)
	str("store", &cfg.Store.Backend)
	str("postgres-dsn", &cfg.Store.PostgresDSN)
	str("sqlite-path", &cfg.Store.SQLitePath)
	str("redis", &cfg.Store.RedisAddr)
	str("directory", &cfg.DirectoryFile)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	if flags.Changed("require-token") {
		cfg.RequireToken, _ = flags.GetBool("require-token")
	}
}

// openStore opens the configured backend and, when a Redis address is set,
// puts the history cache in front of it.
func openStore(ctx context.Context, cfg server.StoreConfig, log *slog.Logger) (store.Store, func(), error) {
	var (
		st      store.Store
		closers []io.Closer
	)

	switch cfg.Backend {
	case server.BackendMemory, "":
		st = store.NewMemory()
	case server.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("postgres store needs a DSN")
		}
		db, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		st, closers = db, append(closers, db)
	case server.BackendSQLite:
		db, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		st, closers = db, append(closers, db)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	log.Info("Message store ready", "backend", cfg.Backend)

	if cfg.RedisAddr != "" {
		cache, err := redisstore.Connect(ctx, cfg.RedisAddr, store.DefaultHistoryLimit)
		if err != nil {
			log.Warn("History cache unavailable; serving history from the store", "addr", cfg.RedisAddr, "error", err.Error())
		} else {
			closers = append(closers, cache)
			st = &store.Cached{DB: st, Cache: cache, Logger: log}
			log.Info("History cache ready", "addr", cfg.RedisAddr)
		}
	}

	return st, func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Error("Could not close store", "error", err.Error())
			}
		}
	}, nil
}
