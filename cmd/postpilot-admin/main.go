package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/postpilot/postpilot-go/config"
	"github.com/postpilot/postpilot-go/internal/bootstrap"
	"github.com/postpilot/postpilot-go/internal/devseed"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/service"
	"github.com/postpilot/postpilot-go/internal/util"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"db-reset": {
			name:        "db-reset",
			description: "Drop the database schema, run migrations, and optionally seed data",
			run:         runDBReset,
		},
		"seed": {
			name:        "seed",
			description: "Seed demo posting jobs into the configured storage backend",
			run:         runSeed,
		},
		"jobs": {
			name:        "jobs",
			description: "List persisted posting jobs",
			run:         runJobs,
		},
		"expire": {
			name:        "expire",
			description: "Run a one-shot expiry sweep over persisted jobs",
			run:         runExpire,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: postpilot-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	names := make([]string, 0, len(commands()))
	for name := range commands() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands()[name]
		if err := writef(os.Stdout, "  %-12s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	Seed        bool
	AllowRemote bool
}

type seedOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

type jobsOptions struct {
	Status   string
	Platform string
	Account  string
	Limit    int
	JSON     bool
}

type expireOptions struct {
	DryRun bool
	Yes    bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func runDBReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBResetFlags(args)
	if err != nil {
		return err
	}

	target := fmt.Sprintf(
		"database %q on %s:%d",
		cmdCtx.Config.Postgres.Name,
		cmdCtx.Config.Postgres.Host,
		cmdCtx.Config.Postgres.Port,
	)

	remote, err := guardRemoteHost(cmdCtx, opts.AllowRemote, "drop and recreate the public schema")
	if err != nil {
		return err
	}

	confirmOpts := confirmOptions{
		yes:    opts.Yes,
		target: target,
	}
	if remote {
		confirmOpts.remoteHost = cmdCtx.Config.Postgres.Host
	}
	if confirmErr := confirmAction(confirmOpts, "reset database schema"); confirmErr != nil {
		return confirmErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("dropping public schema", "database", cmdCtx.Config.Postgres.Name)
		if resetErr := cmdCtx.resetDatabase(ctx, db); resetErr != nil {
			return resetErr
		}

		cmdCtx.Logger.Info("re-running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		if opts.Seed {
			cmdCtx.Logger.Info("seeding demo jobs after reset")
			seedCtx := *cmdCtx
			seedCtx.Ctx = ctx
			if seedErr := seedThroughStore(ctx, &seedCtx, false); seedErr != nil {
				return fmt.Errorf("seed data: %w", seedErr)
			}
		}

		cmdCtx.Logger.Info("database reset completed successfully")
		return nil
	})
}

func runSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseSeedFlags(args)
	if err != nil {
		return err
	}

	if cmdCtx.Config.Storage.Backend != config.StorageBackendFile {
		if _, guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "seed demo jobs on the configured database"); guardErr != nil {
			return guardErr
		}
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	seedCtx := *cmdCtx
	seedCtx.Ctx = ctx
	return seedThroughStore(ctx, &seedCtx, true)
}

func seedThroughStore(ctx context.Context, cmdCtx *commandContext, migrateFirst bool) error {
	conn, err := openStore(cmdCtx, migrateFirst)
	if err != nil {
		return err
	}
	defer closeStore(conn, cmdCtx.Logger)

	svcs, err := devseed.NewServices(conn.Store, cmdCtx.Logger)
	if err != nil {
		return err
	}

	cmdCtx.Logger.Info("seeding demo jobs", "backend", cmdCtx.Config.Storage.Backend)
	if seedErr := devseed.Run(ctx, svcs, cmdCtx.Logger); seedErr != nil {
		return fmt.Errorf("seed jobs: %w", seedErr)
	}

	cmdCtx.Logger.Info("seeding completed successfully")
	return nil
}

func runJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobsFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	listCtx := *cmdCtx
	listCtx.Ctx = ctx
	conn, err := openStore(&listCtx, false)
	if err != nil {
		return err
	}
	defer closeStore(conn, cmdCtx.Logger)

	jobs, err := conn.Store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	filtered := filterJobs(jobs, opts)
	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].ScheduledTime.Equal(filtered[j].ScheduledTime) {
			return filtered[i].ScheduledTime.Before(filtered[j].ScheduledTime)
		}
		return filtered[i].ID < filtered[j].ID
	})

	total := len(filtered)
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	if opts.JSON {
		return printJobsJSON(filtered)
	}
	return printJobsTable(filtered, total)
}

func filterJobs(jobs map[string]*model.Job, opts jobsOptions) []*model.Job {
	out := make([]*model.Job, 0, len(jobs))
	for _, job := range jobs {
		if opts.Status != "" && string(job.Status) != opts.Status {
			continue
		}
		if opts.Platform != "" && string(job.Platform) != opts.Platform {
			continue
		}
		if opts.Account != "" && job.AccountID != opts.Account {
			continue
		}
		out = append(out, job)
	}
	return out
}

func printJobsJSON(jobs []*model.Job) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jobs); err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	return nil
}

func printJobsTable(jobs []*model.Job, total int) error {
	if len(jobs) == 0 {
		return writeln(os.Stdout, "(no jobs found)")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tSTATUS\tPLATFORM\tPRIORITY\tSCHEDULED (UTC+7)\tACCOUNT\tRETRIES\tCONTENT"); err != nil {
		return fmt.Errorf("write jobs header: %w", err)
	}
	for _, job := range jobs {
		if err := writef(w, "%.8s\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			job.ID,
			job.Status,
			job.Platform,
			job.Priority,
			util.FormatVN(job.ScheduledTime),
			job.AccountID,
			job.RetryCount,
			job.MaxRetries,
			truncateContent(job.Content, 48),
		); err != nil {
			return fmt.Errorf("write job row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush jobs table: %w", err)
	}
	return writef(os.Stdout, "\nShowing %d of %d jobs\n", len(jobs), total)
}

func truncateContent(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func runExpire(cmdCtx *commandContext, args []string) error {
	opts, err := parseExpireFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	expireCtx := *cmdCtx
	expireCtx.Ctx = ctx
	conn, err := openStore(&expireCtx, false)
	if err != nil {
		return err
	}
	defer closeStore(conn, cmdCtx.Logger)

	if opts.DryRun {
		return reportExpiryCandidates(ctx, conn)
	}

	if !opts.Yes {
		if confirmErr := confirmAction(confirmOptions{target: "persisted jobs"}, "expire overdue jobs"); confirmErr != nil {
			return confirmErr
		}
	}

	svcs, err := devseed.NewServices(conn.Store, cmdCtx.Logger)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, reloadErr := svcs.Sync.Reload(ctx, service.ReloadParams{Now: now, Forced: true}); reloadErr != nil {
		return fmt.Errorf("load jobs: %w", reloadErr)
	}

	expired, err := svcs.Manager.CleanupExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("expire jobs: %w", err)
	}

	cmdCtx.Logger.Info("expiry sweep complete", "expired", expired)
	return writef(os.Stdout, "Expired %d jobs\n", expired)
}

func reportExpiryCandidates(ctx context.Context, conn *storeConn) error {
	jobs, err := conn.Store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	now := time.Now().UTC()
	count := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if now.Sub(job.ScheduledTime) > model.ExpiryWindow {
			count++
		}
	}
	return writef(os.Stdout, "Dry-run: would expire %d jobs\n", count)
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseDBResetFlags(args []string) (dbResetOptions, error) {
	fs := flag.NewFlagSet("db-reset", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := dbResetOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for reset operations to complete",
	)
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.BoolVar(&opts.Seed, "seed", false, "Seed demo jobs after reset completes")
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}

	if opts.Timeout <= 0 {
		return dbResetOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseSeedFlags(args []string) (seedOptions, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := seedOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for seeding to complete",
	)
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return seedOptions{}, err
	}

	if opts.Timeout <= 0 {
		return seedOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseJobsFlags(args []string) (jobsOptions, error) {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobsOptions
	fs.StringVar(&opts.Status, "status", "", "Filter by status (scheduled, running, completed, ...)")
	fs.StringVar(&opts.Platform, "platform", "", "Filter by platform (threads, facebook)")
	fs.StringVar(&opts.Account, "account", "", "Filter by account ID")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum rows to display (0 for unlimited)")
	fs.BoolVar(&opts.JSON, "json", false, "Print jobs as JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return jobsOptions{}, err
	}

	opts.Status = strings.ToLower(strings.TrimSpace(opts.Status))
	opts.Platform = strings.ToLower(strings.TrimSpace(opts.Platform))
	if opts.Status != "" && !model.JobStatus(opts.Status).Valid() {
		return jobsOptions{}, fmt.Errorf("invalid --status %q", opts.Status)
	}
	if opts.Platform != "" && !model.Platform(opts.Platform).Valid() {
		return jobsOptions{}, fmt.Errorf("invalid --platform %q", opts.Platform)
	}
	if opts.Limit < 0 {
		return jobsOptions{}, errors.New("--limit must not be negative")
	}

	return opts, nil
}

func parseExpireFlags(args []string) (expireOptions, error) {
	fs := flag.NewFlagSet("expire", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts expireOptions
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report what would expire without writing")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return expireOptions{}, err
	}

	return opts, nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

type confirmOptions struct {
	yes        bool
	target     string
	remoteHost string
}

func confirmAction(opts confirmOptions, action string) error {
	if opts.yes {
		return nil
	}

	prompt := fmt.Sprintf("About to %s", action)
	if opts.target != "" {
		prompt += " on " + opts.target
	}
	if opts.remoteHost != "" {
		prompt += fmt.Sprintf(" (remote host %q)", opts.remoteHost)
	}

	if err := writef(os.Stderr, "%s.\nType \"yes\" to continue: ", prompt); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return errors.New("aborted by user")
	}
	if strings.TrimSpace(resp) != "yes" {
		return errors.New("aborted by user")
	}
	return nil
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) (bool, error) {
	remote := isLikelyRemoteHost(cmdCtx.Config.Postgres.Host)
	if !remote {
		return false, nil
	}
	if !allow {
		return true, fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cmdCtx.Config.Postgres.Host,
		)
	}
	if err := requireRemoteHostConfirmation(action, cmdCtx.Config.Postgres.Host); err != nil {
		return true, err
	}
	return true, nil
}

func (cmdCtx *commandContext) resetDatabase(ctx context.Context, db *sql.DB) error {
	if cmdCtx == nil {
		return errors.New("command context is required")
	}

	cfg := &cmdCtx.Config.Postgres
	statements := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if user := strings.TrimSpace(cfg.User); user != "" && !strings.EqualFold(user, "public") {
		statements = append(statements, "GRANT ALL ON SCHEMA public TO "+quoteIdentifier(user))
	}

	for _, stmt := range statements {
		if cmdCtx.Logger != nil {
			cmdCtx.Logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func requireRemoteHostConfirmation(action, host string) error {
	if err := writef(
		os.Stderr,
		"\nWARNING: database host %q does not look like a local address.\n"+
			"This operation will %s.\n",
		host,
		action,
	); err != nil {
		return fmt.Errorf("print remote host warning: %w", err)
	}
	if err := writef(os.Stderr, "Type %q to continue or press enter to abort: ", host); err != nil {
		return fmt.Errorf("print remote host prompt: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stderr, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	if strings.TrimSpace(resp) != host {
		if writeErr := writeln(os.Stderr, "\nRemote safeguard check failed; aborting."); writeErr != nil {
			return fmt.Errorf("print remote safeguard failure: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	return nil
}
