package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/postpilot/postpilot-go/config"
	"github.com/postpilot/postpilot-go/internal/bootstrap"
	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/data"
)

// storeConn bundles a job store with the database connection backing it,
// if any. The file backend has no connection to close.
type storeConn struct {
	Store core.JobStore
	DB    *sql.DB
}

func (c *storeConn) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	if err := c.DB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// openStore builds the job store selected by STORAGE_BACKEND. For the
// relational backend it connects to Postgres and optionally applies
// pending migrations first.
func openStore(cmdCtx *commandContext, migrateFirst bool) (*storeConn, error) {
	cfg := &cmdCtx.Config
	storeCfg := data.StoreConfig{Logger: cmdCtx.Logger}

	if cfg.Storage.Backend == config.StorageBackendFile {
		store, err := data.NewFileJobStore(cfg.Storage.FileDir, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("create file job store: %w", err)
		}
		return &storeConn{Store: store}, nil
	}

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cfg.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if migrateFirst {
		if migrateErr := bootstrap.RunMigrations(cmdCtx.Ctx, db, cmdCtx.Logger); migrateErr != nil {
			if closeErr := db.Close(); closeErr != nil {
				migrateErr = errors.Join(migrateErr, fmt.Errorf("close db: %w", closeErr))
			}
			return nil, fmt.Errorf("run migrations: %w", migrateErr)
		}
	}

	store, err := data.NewPgJobStore(db, storeCfg)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
		}
		return nil, fmt.Errorf("create relational job store: %w", err)
	}

	return &storeConn{Store: store, DB: db}, nil
}

func closeStore(conn *storeConn, logger *slog.Logger) {
	if err := conn.Close(); err != nil && logger != nil {
		logger.Warn("close store failed", "error", err)
	}
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}
