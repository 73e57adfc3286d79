// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the issuer configuration.
//
// Configuration is loaded from a single YAML file specified by either
// the GHOSTKEY_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches. Production is stricter: exempt requester hashes are
// refused, and a master verifying key and requester salt are required.
//
// ${HOME}, ${GHOSTKEY_ROOT} and ${VAR:-default} are expanded in path
// fields after loading. No environment variable overrides any other
// value.
//
// This package depends on no other ghostkey packages.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable [Load] reads.
const EnvVar = "GHOSTKEY_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the issuer configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths     PathsConfig     `yaml:"paths"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Burst     BurstConfig     `yaml:"burst"`
	Payment   PaymentConfig   `yaml:"payment"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains fields that can be overridden per environment.
type Overrides struct {
	Paths     *PathsConfig     `yaml:"paths,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
	Burst     *BurstConfig     `yaml:"burst,omitempty"`
	Payment   *PaymentConfig   `yaml:"payment,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for issuer state.
	Root string `yaml:"root"`

	// Delegates is the delegate directory
	// (delegate_certificate_<tier>.pem, delegate_signing_key_<tier>.pem).
	Delegates string `yaml:"delegates"`

	// RateLimits is the persisted rate-limit JSON file.
	RateLimits string `yaml:"rate_limits"`

	// Ledger is the SQLite redemption ledger.
	Ledger string `yaml:"ledger"`

	// MasterVerifyingKey, when set, is used to verify every delegate
	// certificate at load.
	MasterVerifyingKey string `yaml:"master_verifying_key"`

	// AgeIdentity opens sealed delegate signing keys.
	AgeIdentity string `yaml:"age_identity"`
}

// RateLimitConfig configures the persisted issuance window.
type RateLimitConfig struct {
	// Window is the rolling window. Default: 24h.
	Window time.Duration `yaml:"window"`

	// MaxPerWindow is the per-requester cap. Default: 20.
	MaxPerWindow int `yaml:"max_per_window"`

	// SaltFile holds the secret salt for requester hashing.
	SaltFile string `yaml:"salt_file"`

	// Exempt lists hex requester hashes (see `ghostkey hash-requester`)
	// that bypass the window. Refused in production.
	Exempt []string `yaml:"exempt"`
}

// BurstConfig configures the in-memory per-requester token bucket.
type BurstConfig struct {
	// Rate is requests per second per requester. Zero disables.
	Rate float64 `yaml:"rate"`

	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// PaymentConfig configures calls to the payment backend.
type PaymentConfig struct {
	// Timeout bounds each backend call. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the base configuration the file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "state", "ghostkey")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       root,
			Delegates:  "${GHOSTKEY_ROOT}/delegates",
			RateLimits: "${GHOSTKEY_ROOT}/rate_limits.json",
			Ledger:     "${GHOSTKEY_ROOT}/redemptions.db",
		},
		RateLimit: RateLimitConfig{
			Window:       24 * time.Hour,
			MaxPerWindow: 20,
		},
		Payment: PaymentConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load loads configuration from the GHOSTKEY_CONFIG file.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your ghostkey.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path. The result is not
// validated; call [Config.Validate].
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.Delegates, paths.Delegates)
		override(&c.Paths.RateLimits, paths.RateLimits)
		override(&c.Paths.Ledger, paths.Ledger)
		override(&c.Paths.MasterVerifyingKey, paths.MasterVerifyingKey)
		override(&c.Paths.AgeIdentity, paths.AgeIdentity)
	}

	if limit := overrides.RateLimit; limit != nil {
		override(&c.RateLimit.Window, limit.Window)
		override(&c.RateLimit.MaxPerWindow, limit.MaxPerWindow)
		override(&c.RateLimit.SaltFile, limit.SaltFile)
		// An override list replaces the base list, including with an
		// explicit empty one.
		if limit.Exempt != nil {
			c.RateLimit.Exempt = limit.Exempt
		}
	}

	if burst := overrides.Burst; burst != nil {
		override(&c.Burst.Rate, burst.Rate)
		override(&c.Burst.Burst, burst.Burst)
		override(&c.Burst.IdleTTL, burst.IdleTTL)
	}

	if pay := overrides.Payment; pay != nil {
		override(&c.Payment.Timeout, pay.Timeout)
	}
}

// override replaces *field with value unless value is the zero value.
func override[T comparable](field *T, value T) {
	var zero T
	if value != zero {
		*field = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"GHOSTKEY_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["GHOSTKEY_ROOT"] = c.Paths.Root

	c.Paths.Delegates = expandVars(c.Paths.Delegates, vars)
	c.Paths.RateLimits = expandVars(c.Paths.RateLimits, vars)
	c.Paths.Ledger = expandVars(c.Paths.Ledger, vars)
	c.Paths.MasterVerifyingKey = expandVars(c.Paths.MasterVerifyingKey, vars)
	c.Paths.AgeIdentity = expandVars(c.Paths.AgeIdentity, vars)
	c.RateLimit.SaltFile = expandVars(c.RateLimit.SaltFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration. The error names every offending
// field.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	required := []struct{ field, value string }{
		{"paths.delegates", c.Paths.Delegates},
		{"paths.rate_limits", c.Paths.RateLimits},
		{"paths.ledger", c.Paths.Ledger},
		{"rate_limit.salt_file", c.RateLimit.SaltFile},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.field))
		}
	}

	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must be positive"))
	}
	if c.RateLimit.MaxPerWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.max_per_window must be positive"))
	}
	for i, entry := range c.RateLimit.Exempt {
		if decoded, err := hex.DecodeString(entry); err != nil || len(decoded) != 32 {
			// The entry itself is a requester hash and stays out of the message.
			errs = append(errs, fmt.Errorf("rate_limit.exempt[%d] is not a 64-character hex hash", i))
		}
	}

	if c.Burst.Rate < 0 {
		errs = append(errs, fmt.Errorf("burst.rate must not be negative"))
	}
	if c.Burst.Burst < 0 {
		errs = append(errs, fmt.Errorf("burst.burst must not be negative"))
	}
	if c.Payment.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.timeout must be positive"))
	}

	if c.Environment == Production {
		if len(c.RateLimit.Exempt) > 0 {
			errs = append(errs, fmt.Errorf("rate_limit.exempt must be empty in production"))
		}
		if c.Paths.MasterVerifyingKey == "" {
			errs = append(errs, fmt.Errorf("paths.master_verifying_key is required in production"))
		}
	}

	return errors.Join(errs...)
}
