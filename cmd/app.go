package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatstack/chatstack/internal/config"
	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/chatstack/chatstack/internal/database"
	"github.com/chatstack/chatstack/internal/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app bundles the shared pieces every command needs.
type app struct {
	cfg    *config.Config
	logger log.Logger
	pool   *pgxpool.Pool
	store  *corpus.Store
}

// newApp loads configuration, opens the database and runs migrations.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.New(log.Config{Level: parseLogLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	dsn := cfg.Postgres.DSN()
	if err := database.Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		store:  corpus.NewStore(pool, logger),
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
