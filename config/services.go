package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeAPI runs the HTTP API server.
	ServiceModeAPI ServiceMode = "api"
	// ServiceModeExecutor runs the job executor loop.
	ServiceModeExecutor ServiceMode = "executor"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeAPI,
		ServiceModeExecutor,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeAPI, ServiceModeExecutor:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: api, executor)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ExecutorConfig contains executor service configuration.
type ExecutorConfig struct {
	// CheckInterval is the executor tick interval.
	CheckInterval time.Duration `env:"EXECUTOR_CHECK_INTERVAL" envDefault:"10s"`

	// ReloadInterval is the minimum time between storage reloads.
	ReloadInterval time.Duration `env:"EXECUTOR_RELOAD_INTERVAL" envDefault:"30s"`

	// ReloadCheckDelay is the quiet period after a save during which
	// reloads are suppressed so the executor does not read back a
	// snapshot it just wrote.
	ReloadCheckDelay time.Duration `env:"EXECUTOR_RELOAD_CHECK_DELAY" envDefault:"2s"`

	// MaxRunningAge is how long a job may stay in running status before
	// the executor treats it as stuck and recovers it.
	MaxRunningAge time.Duration `env:"EXECUTOR_MAX_RUNNING_AGE" envDefault:"30m"`

	// PostProcessingDelay is the pause after dispatching a job before the
	// next tick proceeds, giving platform APIs breathing room.
	PostProcessingDelay time.Duration `env:"EXECUTOR_POST_PROCESSING_DELAY" envDefault:"4s"`

	// MaxRetries is the default retry budget for jobs that do not set one.
	MaxRetries int `env:"EXECUTOR_MAX_RETRIES" envDefault:"3"`

	// OverdueThreshold skips (expires) scheduled jobs that are overdue by
	// more than this duration. Zero disables the overdue check.
	OverdueThreshold time.Duration `env:"EXECUTOR_OVERDUE_THRESHOLD" envDefault:"0"`

	// LeaseTTL is the TTL on the executor leadership lease held in Redis.
	// Only the lease holder dispatches jobs when multiple replicas run.
	LeaseTTL time.Duration `env:"EXECUTOR_LEASE_TTL" envDefault:"20s"`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	if e.CheckInterval < time.Second {
		e.CheckInterval = time.Second
	}
	if e.ReloadInterval < e.CheckInterval {
		e.ReloadInterval = e.CheckInterval
	}
	if e.ReloadCheckDelay < 0 {
		e.ReloadCheckDelay = 0
	}
	if e.MaxRunningAge < time.Minute {
		e.MaxRunningAge = time.Minute
	}
	if e.PostProcessingDelay < 0 {
		e.PostProcessingDelay = 0
	}
	if e.MaxRetries < 0 {
		e.MaxRetries = 0
	}
	if e.OverdueThreshold < 0 {
		e.OverdueThreshold = 0
	}
	// The lease must outlive at least one missed tick or leadership
	// flaps between replicas.
	if e.LeaseTTL < 2*e.CheckInterval {
		e.LeaseTTL = 2 * e.CheckInterval
	}
}

// StorageBackend selects the durable job store implementation.
type StorageBackend string

const (
	// StorageBackendRelational persists jobs to PostgreSQL.
	StorageBackendRelational StorageBackend = "relational"
	// StorageBackendFile persists jobs to date-partitioned JSON files.
	StorageBackendFile StorageBackend = "file"
)

// UnmarshalText implements encoding.TextUnmarshaler for StorageBackend.
func (s *StorageBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "relational", "file":
		*s = StorageBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StorageBackend: %q (valid options: relational, file)", v)
	}
}

// StorageConfig contains job storage configuration.
type StorageConfig struct {
	// Backend selects the job store implementation.
	Backend StorageBackend `env:"STORAGE_BACKEND" envDefault:"relational"`

	// FileDir is the directory for JSON job files when Backend is "file".
	FileDir string `env:"STORAGE_FILE_DIR" envDefault:"./data/jobs"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	if s.Backend == "" {
		s.Backend = StorageBackendRelational
	}
	s.FileDir = strings.TrimSpace(s.FileDir)
	if s.FileDir == "" {
		s.FileDir = "./data/jobs"
	}
}

// ThreadsConfig contains Threads platform credentials and endpoints.
type ThreadsConfig struct {
	Enabled     bool   `env:"ENABLED"      envDefault:"false"`
	AccessToken string `env:"ACCESS_TOKEN"`
	UserID      string `env:"USER_ID"`
	BaseURL     string `env:"BASE_URL"     envDefault:"https://graph.threads.net/v1.0"`
	// IDExpression is the JMESPath expression that extracts the published
	// post identifier from the platform response.
	IDExpression string `env:"ID_EXPRESSION" envDefault:"id"`
	// ErrorExpression extracts a human-readable message from failure
	// responses.
	ErrorExpression string `env:"ERROR_EXPRESSION" envDefault:"error.message"`
	// ShadowExpression, when set, extracts a flag marking posts the
	// platform accepted but suppressed. Empty disables the check.
	ShadowExpression string `env:"SHADOW_EXPRESSION"`
}

func (c *ThreadsConfig) sanitize() {
	c.AccessToken = strings.TrimSpace(c.AccessToken)
	c.UserID = strings.TrimSpace(c.UserID)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.IDExpression == "" {
		c.IDExpression = "id"
	}
	if c.ErrorExpression == "" {
		c.ErrorExpression = "error.message"
	}
	if c.Enabled && (c.AccessToken == "" || c.UserID == "") {
		c.Enabled = false
	}
}

// FacebookConfig contains Facebook platform credentials and endpoints.
type FacebookConfig struct {
	Enabled     bool   `env:"ENABLED"      envDefault:"false"`
	AccessToken string `env:"ACCESS_TOKEN"`
	PageID      string `env:"PAGE_ID"`
	BaseURL     string `env:"BASE_URL"     envDefault:"https://graph.facebook.com/v23.0"`
	// IDExpression is the JMESPath expression that extracts the published
	// post identifier from the platform response.
	IDExpression string `env:"ID_EXPRESSION" envDefault:"id"`
	// ErrorExpression extracts a human-readable message from failure
	// responses.
	ErrorExpression string `env:"ERROR_EXPRESSION" envDefault:"error.message"`
	// ShadowExpression, when set, extracts a flag marking posts the
	// platform accepted but suppressed. Empty disables the check.
	ShadowExpression string `env:"SHADOW_EXPRESSION"`
}

func (c *FacebookConfig) sanitize() {
	c.AccessToken = strings.TrimSpace(c.AccessToken)
	c.PageID = strings.TrimSpace(c.PageID)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.IDExpression == "" {
		c.IDExpression = "id"
	}
	if c.ErrorExpression == "" {
		c.ErrorExpression = "error.message"
	}
	if c.Enabled && (c.AccessToken == "" || c.PageID == "") {
		c.Enabled = false
	}
}

// PlatformsConfig groups posting platform configuration.
type PlatformsConfig struct {
	// DryRun routes all posting through the no-op adapter regardless of
	// per-platform settings. Useful for staging environments.
	DryRun bool `env:"PLATFORMS_DRY_RUN" envDefault:"false"`

	// RequestTimeout bounds a single platform API call.
	RequestTimeout time.Duration `env:"PLATFORMS_REQUEST_TIMEOUT" envDefault:"30s"`

	Threads  ThreadsConfig  `envPrefix:"THREADS_"`
	Facebook FacebookConfig `envPrefix:"FACEBOOK_"`
}

// Sanitize applies guardrails to platform configuration values.
func (p *PlatformsConfig) Sanitize() {
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 30 * time.Second
	}
	p.Threads.sanitize()
	p.Facebook.sanitize()
}
