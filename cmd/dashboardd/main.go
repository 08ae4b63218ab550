// Command dashboardd serves the dashboard API with a query cache kept in
// sync with Postgres through LISTEN/NOTIFY.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/juju/gnuflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"

	"github.com/goliatone/go-query-sync/internal/api"
	"github.com/goliatone/go-query-sync/internal/changefeed"
	"github.com/goliatone/go-query-sync/internal/config"
	"github.com/goliatone/go-query-sync/internal/dashboard"
	"github.com/goliatone/go-query-sync/internal/logutil"
	"github.com/goliatone/go-query-sync/pkg/di"
)

type options struct {
	configPath  string
	addr        string
	migrateOnly bool
	noRealtime  bool
}

func parseFlags(args []string) (options, error) {
	var o options
	f := gnuflag.NewFlagSet("dashboardd", gnuflag.ContinueOnError)
	f.StringVar(&o.configPath, "config", "", "path to the TOML configuration file")
	f.StringVar(&o.configPath, "c", "", "")
	f.StringVar(&o.addr, "addr", "", "listen address, overrides the configuration")
	f.BoolVar(&o.migrateOnly, "migrate-only", false, "apply the migrations and exit")
	f.BoolVar(&o.noRealtime, "no-realtime", false, "serve without the change feed")
	if err := f.Parse(true, args); err != nil {
		return o, err
	}
	if rest := f.Args(); len(rest) > 0 {
		return o, fmt.Errorf("unexpected arguments %v", rest)
	}
	return o, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dashboardd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.noRealtime {
		cfg.Realtime.Enabled = false
	}

	logger, err := logutil.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqldb, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqldb.Close()

	if cfg.Database.Migrate || opts.migrateOnly {
		if err := changefeed.Migrate(ctx, sqldb, logger); err != nil {
			return err
		}
	}
	if opts.migrateOnly {
		return nil
	}

	return serve(ctx, cfg, bun.NewDB(sqldb, pgdialect.New()), logger)
}

func serve(ctx context.Context, cfg config.Config, db *bun.DB, logger *zap.Logger) error {
	containerOpts := []di.Option{di.WithLogger(logger)}
	if cfg.Realtime.Enabled {
		feed, err := changefeed.New(cfg.Database.DSN, cfg.ListenerConfig(), changefeed.WithLogger(logger.Named("changefeed")))
		if err != nil {
			return err
		}
		defer feed.Close()
		containerOpts = append(containerOpts, di.WithChangeFeed(feed))
	}

	container, err := di.NewContainer(di.Config{
		Cache:    cfg.CacheConfig(),
		Realtime: cfg.RealtimeConfig(),
	}, containerOpts...)
	if err != nil {
		return err
	}
	defer container.Close()

	services := dashboard.NewServices(container, db)

	handles, err := container.OpenRealtime(ctx)
	if err != nil {
		return fmt.Errorf("open realtime: %w", err)
	}
	logger.Info("realtime handles opened", zap.Int("handles", len(handles)))

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(container.Cache(), services.Resources(),
			api.WithLogger(logger),
			api.WithBridge(container.Bridge()),
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
