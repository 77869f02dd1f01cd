// Copyright 2025 The Slipway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads process-wide configuration from environment variables.
//
// Configuration is read exactly once at startup into an immutable Config
// struct, including the GitHub App signing key. Components receive the
// struct (or the fields they need) at construction time and never re-read
// the environment mid-request.
package config

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the bot configuration loaded from environment variables.
type Config struct {
	// ListenAddr is the address the webhook HTTP server binds to.
	ListenAddr string

	// WebhookSecret is the shared secret used to verify X-Hub-Signature-256.
	WebhookSecret string

	// AppID identifies the GitHub App; used as the JWT issuer.
	AppID int64

	// PrivateKey is the App's RSA signing key, parsed once at startup.
	PrivateKey *rsa.PrivateKey

	// GitHubBaseURL overrides the GitHub API base URL. Empty means
	// api.github.com; set it when talking to GHES or a test server.
	GitHubBaseURL string

	// DeployCommand and CleanupCommand are the external actions invoked
	// per deploy/cleanup. They receive positional arguments and report
	// results on stdout via the key=value protocol.
	DeployCommand  string
	CleanupCommand string

	// WorkspaceRoot is the directory under which per-branch checkouts live.
	WorkspaceRoot string

	// LogDir is where per-event run log artifacts are written.
	LogDir string

	// RegistryDir backs the file-based resource registry.
	RegistryDir string

	// RegistryDB, when non-empty, selects the SQLite registry backend
	// at this path instead of the file store.
	RegistryDB string

	// PortMin and PortMax bound the ephemeral port range probed for
	// single-container deploys.
	PortMin int
	PortMax int

	// SMTP settings for the run log mail. Mail is disabled when
	// SMTPHost or MailRecipient is empty.
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	MailRecipient string

	// MailMaxAttempts and MailRetryDelay parameterize the bounded
	// retry policy for mail submission.
	MailMaxAttempts int
	MailRetryDelay  time.Duration

	// ArtifactTTL and SweepInterval control retention of old run log
	// artifacts.
	ArtifactTTL   time.Duration
	SweepInterval time.Duration
}

// MailEnabled reports whether the log mail channel is configured.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.MailRecipient != ""
}

// Load reads configuration from environment variables and returns a
// validated Config. SLIPWAY_WEBHOOK_SECRET, SLIPWAY_GITHUB_APP_ID and
// SLIPWAY_GITHUB_PRIVATE_KEY are required; everything else has defaults.
func Load() (*Config, error) {
	secret := os.Getenv("SLIPWAY_WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("SLIPWAY_WEBHOOK_SECRET is required")
	}

	appIDRaw := os.Getenv("SLIPWAY_GITHUB_APP_ID")
	if appIDRaw == "" {
		return nil, fmt.Errorf("SLIPWAY_GITHUB_APP_ID is required")
	}
	appID, err := strconv.ParseInt(appIDRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("SLIPWAY_GITHUB_APP_ID has invalid value %q: %w", appIDRaw, err)
	}

	keyPath := os.Getenv("SLIPWAY_GITHUB_PRIVATE_KEY")
	if keyPath == "" {
		return nil, fmt.Errorf("SLIPWAY_GITHUB_PRIVATE_KEY is required")
	}
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading GitHub App private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub App private key: %w", err)
	}

	cfg := &Config{
		ListenAddr:      getString("SLIPWAY_LISTEN_ADDR", ":8080"),
		WebhookSecret:   secret,
		AppID:           appID,
		PrivateKey:      key,
		GitHubBaseURL:   getString("SLIPWAY_GITHUB_BASE_URL", ""),
		DeployCommand:   getString("SLIPWAY_DEPLOY_COMMAND", "./deploy.sh"),
		CleanupCommand:  getString("SLIPWAY_CLEANUP_COMMAND", "./cleanup.sh"),
		WorkspaceRoot:   getString("SLIPWAY_WORKSPACE_ROOT", "/var/lib/slipway/workspaces"),
		LogDir:          getString("SLIPWAY_LOG_DIR", "/tmp"),
		RegistryDir:     getString("SLIPWAY_REGISTRY_DIR", "/var/lib/slipway/registry"),
		RegistryDB:      getString("SLIPWAY_REGISTRY_DB", ""),
		PortMin:         getInt("SLIPWAY_PORT_MIN", 4000),
		PortMax:         getInt("SLIPWAY_PORT_MAX", 7000),
		SMTPHost:        getString("SLIPWAY_SMTP_HOST", ""),
		SMTPPort:        getInt("SLIPWAY_SMTP_PORT", 587),
		SMTPUsername:    getString("SLIPWAY_SMTP_USERNAME", ""),
		SMTPPassword:    getString("SLIPWAY_SMTP_PASSWORD", ""),
		MailRecipient:   getString("SLIPWAY_MAIL_RECIPIENT", ""),
		MailMaxAttempts: getInt("SLIPWAY_MAIL_MAX_ATTEMPTS", 3),
		MailRetryDelay:  getDuration("SLIPWAY_MAIL_RETRY_DELAY", 5*time.Second),
		ArtifactTTL:     getDuration("SLIPWAY_ARTIFACT_TTL", 72*time.Hour),
		SweepInterval:   getDuration("SLIPWAY_SWEEP_INTERVAL", time.Hour),
	}

	if cfg.PortMin < 1 || cfg.PortMax > 65535 || cfg.PortMin > cfg.PortMax {
		return nil, fmt.Errorf("invalid port range %d-%d", cfg.PortMin, cfg.PortMax)
	}
	if cfg.MailMaxAttempts < 1 {
		return nil, fmt.Errorf("SLIPWAY_MAIL_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
