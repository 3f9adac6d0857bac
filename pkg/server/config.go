package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/plantrack/dataplane/pkg/dataset"
	"github.com/plantrack/dataplane/pkg/registry"
)

// VersionInfo is reported by the /version endpoint.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Config holds the HTTP server configuration.
type Config struct {
	Logger     *slog.Logger
	ListenAddr string
	Registry   *registry.Registry
	Store      dataset.Store
	Version    VersionInfo

	// AllowedOrigins configures CORS for the browser frontend. Empty means
	// same-origin only.
	AllowedOrigins []string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// MaxUploadBytes caps the multipart body on dataset creation.
	MaxUploadBytes int64
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 50 << 20
	}
	return nil
}
