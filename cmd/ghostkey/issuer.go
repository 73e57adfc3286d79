// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/freenet/ghostkey/cmd/ghostkey/cli"
	"github.com/freenet/ghostkey/lib/config"
	"github.com/freenet/ghostkey/lib/delegatestore"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/issuance"
	"github.com/freenet/ghostkey/lib/payment"
	"github.com/freenet/ghostkey/lib/ratelimit"
	"github.com/freenet/ghostkey/lib/redemption"
	"github.com/freenet/ghostkey/lib/sealed"
	"github.com/freenet/ghostkey/lib/secret"
)

func hashRequesterCommand(e env) *cli.Command {
	var (
		saltFile string
		logs     logging
	)
	return &cli.Command{
		Name:    "hash-requester",
		Summary: "Print the rate-limit hash of a requester key",
		Description: `Print the salted hash the issuer stores for a requester key. Add the
output to rate_limit.exempt to exempt that requester outside
production.

The salt file must be the one named by the issuer's
rate_limit.salt_file.`,
		Usage: "ghostkey hash-requester --salt-file FILE <requester-key>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("hash-requester", pflag.ContinueOnError)
			flagSet.StringVar(&saltFile, "salt-file", "", "requester hash salt file")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if err := required("salt-file", saltFile); err != nil {
				return err
			}
			if len(args) != 1 {
				return errkind.Errorf(errkind.InvalidInput, "parse flags", "exactly one requester key is required")
			}
			hasher, err := openHasher(saltFile)
			if err != nil {
				return err
			}
			defer hasher.Close()
			e.printf("%s\n", hasher.Hash(args[0]))
			return nil
		},
	}
}

func openHasher(saltFile string) (*ratelimit.Hasher, error) {
	salt, err := secret.ReadFile(saltFile)
	if err != nil {
		return nil, errkind.New(errkind.IO, "read requester salt", err)
	}
	defer salt.Close()
	return ratelimit.NewHasher(salt.Bytes())
}

func checkConfigCommand(e env) *cli.Command {
	var (
		configPath string
		logs       logging
	)
	return &cli.Command{
		Name:    "check-config",
		Summary: "Validate an issuer configuration and open every store it names",
		Description: `Load an issuer configuration, validate it, and open what it points
at: the delegate directory (loading every tier's signing key), the
requester salt, the rate-limit state and the redemption ledger.

The file comes from --config, or from $GHOSTKEY_CONFIG when the flag
is omitted.`,
		Usage: "ghostkey check-config [--config FILE]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("check-config", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "issuer configuration file")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("check-config")

			var cfg *config.Config
			var err error
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return errkind.New(errkind.InvalidInput, "load config", err)
			}
			if err := cfg.Validate(); err != nil {
				return errkind.New(errkind.InvalidInput, "validate config", err)
			}
			e.printf("Environment: %s\n", cfg.Environment)

			var master ed25519.PublicKey
			if cfg.Paths.MasterVerifyingKey != "" {
				if master, err = readMasterVerifyingKey(cfg.Paths.MasterVerifyingKey); err != nil {
					return err
				}
			}

			storeConfig := delegatestore.Config{Dir: cfg.Paths.Delegates, Master: master, Logger: logger}
			if cfg.Paths.AgeIdentity != "" {
				if err := requireStrictPermissions(cfg.Paths.AgeIdentity); err != nil {
					return err
				}
				identity, err := secret.ReadFile(cfg.Paths.AgeIdentity)
				if err != nil {
					return errkind.New(errkind.IO, "read age identity", err)
				}
				defer identity.Close()
				recipients, err := sealed.ParsePrivateKey(identity)
				if err != nil {
					return err
				}
				e.printf("Age identity: %s\n", strings.Join(recipients, ", "))
				storeConfig.Identity = identity
			}
			store, err := delegatestore.Open(storeConfig)
			if err != nil {
				return err
			}
			tiers, err := store.Tiers()
			if err != nil {
				return err
			}
			if len(tiers) == 0 {
				return errkind.Errorf(errkind.Key, "check delegates", "no delegate certificates in %s", store.Dir())
			}
			var failures []error
			for _, tier := range tiers {
				delegate, err := store.Get(tier)
				if err != nil {
					failures = append(failures, fmt.Errorf("tier %d: %w", tier, err))
					continue
				}
				e.printf("Delegate tier %d: %s\n", tier, delegate.Certificate.Payload.Info)
			}
			if len(failures) > 0 {
				return errors.Join(failures...)
			}

			if err := requireStrictPermissions(cfg.RateLimit.SaltFile); err != nil {
				return err
			}
			hasher, err := openHasher(cfg.RateLimit.SaltFile)
			if err != nil {
				return err
			}
			defer hasher.Close()
			limiter, err := ratelimit.New(ratelimit.Config{
				Path:         cfg.Paths.RateLimits,
				Window:       cfg.RateLimit.Window,
				MaxPerWindow: cfg.RateLimit.MaxPerWindow,
				Hasher:       hasher,
				Exempt:       cfg.RateLimit.Exempt,
				Logger:       logger,
			})
			if err != nil {
				return errkind.New(errkind.InvalidInput, "open rate limiter", err)
			}
			stats, err := limiter.Stats()
			if err != nil {
				return err
			}
			e.printf("Rate limit: %d per %s; %d requesters in window, %d at the limit\n",
				cfg.RateLimit.MaxPerWindow, cfg.RateLimit.Window, stats.Requesters, stats.AtLimit)

			if _, err := os.Stat(cfg.Paths.Ledger); errors.Is(err, os.ErrNotExist) {
				logger.Info("redemption ledger will be created", "path", cfg.Paths.Ledger)
			}
			ledger, err := redemption.OpenSQLite(redemption.SQLiteConfig{Path: cfg.Paths.Ledger, Logger: logger})
			if err != nil {
				return err
			}
			defer ledger.Close()
			claimed, err := ledger.Count(context.Background())
			if err != nil {
				return err
			}
			e.printf("Redemption ledger: %d authorizations claimed\n", claimed)

			// No payment backend is configured here; an empty one is
			// enough to prove the service accepts the wiring.
			issuerConfig := issuanceConfig(cfg, store, limiter, ledger, payment.NewMemory(), logger)
			if _, err := issuance.New(issuerConfig); err != nil {
				return errkind.New(errkind.InvalidInput, "build issuance service", err)
			}
			if issuerConfig.Burst.Rate > 0 {
				e.printf("Burst limit: %g/s per requester, burst %d\n", issuerConfig.Burst.Rate, max(issuerConfig.Burst.Burst, 1))
			} else {
				e.printf("Burst limit: disabled\n")
			}
			e.printf("Payment timeout: %s\n", issuerConfig.PaymentTimeout)
			e.printf("Configuration OK\n")
			return nil
		},
	}
}

// issuanceConfig maps the loaded configuration onto an issuance
// service over the opened stores.
func issuanceConfig(cfg *config.Config, delegates issuance.Delegates, limiter *ratelimit.Limiter,
	ledger redemption.Ledger, payments payment.Authorizer, logger *slog.Logger) issuance.Config {
	timeout := cfg.Payment.Timeout
	if timeout <= 0 {
		timeout = issuance.DefaultPaymentTimeout
	}
	return issuance.Config{
		Delegates:      delegates,
		Limiter:        limiter,
		Ledger:         ledger,
		Payments:       payments,
		PaymentTimeout: timeout,
		Burst: issuance.BurstConfig{
			Rate:    cfg.Burst.Rate,
			Burst:   cfg.Burst.Burst,
			IdleTTL: cfg.Burst.IdleTTL,
		},
		Logger: logger,
	}
}
