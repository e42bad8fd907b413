package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banglalekha/backend/internal/config"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// InitDB opens the PostgreSQL connection pool and verifies it with a ping.
func InitDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("database connection established")
	return db, nil
}
