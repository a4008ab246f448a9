// Package config loads the registry's deployment settings from the
// environment, gathered into an explicit struct instead of package-level
// globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every recognized deployment option.
type Config struct {
	// GithubFallbackTokens are rotated randomly for packages with no
	// adapter-specific credential.
	GithubFallbackTokens []string

	// RequirePluginVcsTokens enforces that every managed package's VCS
	// adapter have a registered credential. Defaults to true.
	RequirePluginVcsTokens bool

	// ComposerWebroot is the filesystem path ProviderEmitter writes the
	// JSON tree under.
	ComposerWebroot string

	// DatabaseURL is the Postgres DSN for pkg/store/postgres.
	DatabaseURL string

	// GitLabEndpoint is the GitLab API base URL, when the GitLab VCS
	// adapter is in use.
	GitLabEndpoint string

	// ProviderGCDelay is the grace period before a superseded
	// provider-tree file is deleted. Defaults to five minutes.
	ProviderGCDelay time.Duration

	// UpdateConcurrency bounds the in-process worker pool's concurrent
	// UpdatePackage jobs.
	UpdateConcurrency int

	// LogLevel is parsed by pkg/logging into a logrus.Level.
	LogLevel string
}

// Load reads Config from the process environment, failing fast with an
// error (rather than exiting) so callers and tests can handle it.
func Load() (*Config, error) {
	cfg := &Config{
		GithubFallbackTokens:   splitNonEmpty(os.Getenv("REGISTRY_GITHUB_TOKENS")),
		RequirePluginVcsTokens: true,
		ComposerWebroot:        os.Getenv("REGISTRY_WEBROOT"),
		DatabaseURL:            os.Getenv("REGISTRY_DATABASE_URL"),
		GitLabEndpoint:         os.Getenv("REGISTRY_GITLAB_ENDPOINT"),
		ProviderGCDelay:        5 * time.Minute,
		UpdateConcurrency:      4,
		LogLevel:               envOr("REGISTRY_LOG_LEVEL", "info"),
	}

	if raw := os.Getenv("REGISTRY_REQUIRE_PLUGIN_VCS_TOKENS"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("config: REGISTRY_REQUIRE_PLUGIN_VCS_TOKENS: %w", err)
		}
		cfg.RequirePluginVcsTokens = v
	}

	if raw := os.Getenv("REGISTRY_PROVIDER_GC_DELAY"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: REGISTRY_PROVIDER_GC_DELAY: %w", err)
		}
		cfg.ProviderGCDelay = d
	}

	if raw := os.Getenv("REGISTRY_UPDATE_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: REGISTRY_UPDATE_CONCURRENCY: %w", err)
		}
		cfg.UpdateConcurrency = n
	}

	if cfg.ComposerWebroot == "" {
		return nil, fmt.Errorf("config: REGISTRY_WEBROOT is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: REGISTRY_DATABASE_URL is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
