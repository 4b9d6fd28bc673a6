package config

import "time"

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	// Addr is the listen address in host:port form.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ReadHeaderTimeout bounds how long the server waits for request
	// headers. Bodies and hijacked websocket connections are not covered.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`

	// ShutdownGrace is how long in-flight requests and service loops get
	// to wind down once a shutdown signal arrives.
	ShutdownGrace time.Duration `env:"HTTP_SHUTDOWN_GRACE" envDefault:"15s"`

	// CompressionEnabled turns on gzip for JSON responses.
	CompressionEnabled bool `env:"HTTP_COMPRESSION_ENABLED" envDefault:"false"`

	// CompressionLevel is the gzip level, clamped to the valid range of
	// 1 through 9.
	CompressionLevel int `env:"HTTP_COMPRESSION_LEVEL" envDefault:"6"`
}

// Sanitize clamps tunables into ranges the server can run with.
func (h *HTTPConfig) Sanitize() {
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.ShutdownGrace <= 0 {
		h.ShutdownGrace = 15 * time.Second
	}
	switch {
	case h.CompressionLevel < 1:
		h.CompressionLevel = 1
	case h.CompressionLevel > 9:
		h.CompressionLevel = 9
	}
}
