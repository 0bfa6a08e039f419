package internal

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	// logOutput receives the JSON log; stdout when nil.
	logOutput io.Writer
	registry  *prometheus.Registry
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects the structured log. The MCP command uses it to keep
// stdout free for the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithMetricsRegistry registers metrics with reg instead of a fresh registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(a *application) {
		a.registry = reg
	}
}
