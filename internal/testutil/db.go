package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"time"

	// database/sql driver for the test pools.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/postpilot/postpilot-go/internal/migrate"
)

const (
	dbProbeTimeout   = 2 * time.Second
	dbPingTimeout    = 5 * time.Second
	dbSetupTimeout   = 10 * time.Second
	dbCleanupTimeout = 30 * time.Second
)

// TestDBConfig locates the Postgres instance integration tests run against.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* overrides and falls back to the
// docker compose test profile on port 55432. CI jobs running Postgres as a
// sibling container set TEST_DB_HOST and TEST_DB_PORT explicitly.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "postpilot"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "postpilot"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "postpilot"),
	}
}

// dsn renders the pgx connection string. A non-empty searchPath pins every
// session to that schema ahead of public, which keeps parallel packages off
// each other's tables.
func (c TestDBConfig) dsn(searchPath string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", getEnvOrDefault("TEST_DB_SSL_MODE", "disable"))
	if searchPath != "" {
		q.Set("search_path", searchPath+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SkipIfNoTestDB skips the test when the database does not answer, or fails
// it when TEST_REQUIRE_DB or TEST_REQUIRE_INFRA demands infrastructure.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	if err := probeTestDB(); err != nil {
		if requireDB() {
			t.Fatal("test database required but unreachable:", err)
		}
		t.Skip("test database unreachable:", err)
	}
}

func probeTestDB() error {
	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn(""))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), dbProbeTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

// SetupTestDB opens the shared test database, applies migrations and clears
// the jobs table. Callers pair it with TeardownTestDB.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db := openTestDB(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), dbSetupTimeout)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatal("apply migrations:", err)
	}
	CleanupTestDB(t, db)
	return db
}

func openTestDB(t TestingTB, searchPath string) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn(searchPath))
	if err != nil {
		t.Fatal("open test database:", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatal("ping test database, is the compose test profile up:", err)
	}
	return db
}

// CleanupTestDB empties the jobs table between tests sharing a database.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), dbCleanupTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DELETE FROM jobs"); err != nil {
		t.Fatalf("clear jobs table: %v", err)
	}
}

// TeardownTestDB clears shared state and closes the pool.
func TeardownTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}
	CleanupTestDB(t, db)
	if err := db.Close(); err != nil {
		t.Fatal("close test database:", err)
	}
}

// WithAutoDB hands fn the shared test database, or a throwaway schema when
// TEST_DB_EPHEMERAL is set. Ephemeral schemas drop themselves via t.Cleanup,
// so only the shared path tears down here.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	if envBool("TEST_DB_EPHEMERAL") {
		fn(SetupEphemeralSchemaDB(t))
		return
	}
	db := SetupTestDB(t)
	defer TeardownTestDB(t, db)
	fn(db)
}

// SetupEphemeralSchemaDB migrates a uniquely named schema and returns a pool
// pinned to it. The schema and both connections go away with the test.
func SetupEphemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	admin := openTestDB(t, "")
	schema := randomSchemaName()

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), dbPingTimeout)
		defer dropCancel()
		if _, err := admin.ExecContext(dropCtx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		_ = admin.Close()
	})

	db := openTestDB(t, schema)
	t.Cleanup(func() { _ = db.Close() })

	migCtx, migCancel := context.WithTimeout(context.Background(), dbSetupTimeout)
	defer migCancel()
	if err := migrate.Run(migCtx, db); err != nil {
		t.Fatal("migrate ephemeral schema:", err)
	}
	t.Logf("using ephemeral schema %s", schema)
	return db
}

// randomSchemaName returns a short lowercase identifier safe to interpolate
// into DDL.
func randomSchemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}
