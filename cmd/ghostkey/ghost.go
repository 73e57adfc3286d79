// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/freenet/ghostkey/cmd/ghostkey/cli"
	"github.com/freenet/ghostkey/lib/armor"
	"github.com/freenet/ghostkey/lib/delegatestore"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/ghostkey"
	"github.com/freenet/ghostkey/lib/issuance"
	"github.com/freenet/ghostkey/lib/secret"
)

// issuerCallTimeout bounds a whole remote issuance.
const issuerCallTimeout = 30 * time.Second

func generateGhostKeyCommand(e env) *cli.Command {
	var (
		delegateDir     string
		outputDir       string
		tier            int64
		ageIdentity     string
		masterKeyPath   string
		issuerSocket    string
		authorizationID string
		requester       string
		logs            logging
	)
	return &cli.Command{
		Name:    "generate-ghost-key",
		Summary: "Generate a ghost key certificate",
		Description: `Generate an ephemeral ghost key and have a delegate blind-sign it.

Local mode signs with a delegate from --delegate-dir: the plain
delegate_certificate.pem / delegate_signing_key.pem pair, or with
--tier N the issuer layout. Sealed delegate keys need --age-identity.

Issuer mode (--issuer-socket) fetches the tier's delegate certificate
from a running issuer and sends it only the blinded key, together with
the payment authorization id.

Either way the result is ghost_key_certificate.pem and
ghost_key_signing_key.pem (mode 0600) in the output directory. With
--master-verifying-key the delegate and the finished certificate are
verified before anything is written.`,
		Usage: "ghostkey generate-ghost-key (--delegate-dir DIR | --issuer-socket PATH --authorization ID --tier N --requester KEY) --output-dir DIR [flags]",
		Examples: []cli.Example{
			{
				Description: "Sign locally with a plain delegate pair",
				Command:     "ghostkey generate-ghost-key --delegate-dir delegate --output-dir ghost",
			},
			{
				Description: "Request a $20 ghost key from an issuer",
				Command:     "ghostkey generate-ghost-key --issuer-socket /run/ghostkey/issuer.sock --authorization pi_123 --tier 20 --requester 203.0.113.7 --master-verifying-key master_verifying_key.pem --output-dir ghost",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("generate-ghost-key", pflag.ContinueOnError)
			flagSet.StringVar(&delegateDir, "delegate-dir", "", "directory holding the delegate certificate and signing key")
			flagSet.StringVar(&outputDir, "output-dir", "", "directory to write the ghost key into")
			flagSet.Int64Var(&tier, "tier", 0, "delegate tier")
			flagSet.StringVar(&ageIdentity, "age-identity", "", "age identity file for sealed delegate keys")
			flagSet.StringVar(&masterKeyPath, "master-verifying-key", "", "verify the delegate and result against this master verifying key")
			flagSet.StringVar(&issuerSocket, "issuer-socket", "", "request the signature from the issuer on this socket")
			flagSet.StringVar(&authorizationID, "authorization", "", "payment authorization id (issuer mode)")
			flagSet.StringVar(&requester, "requester", "", "rate-limit key reported to the issuer (issuer mode)")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("generate-ghost-key")
			if (delegateDir == "") == (issuerSocket == "") {
				return errkind.Errorf(errkind.InvalidInput, "parse flags", "exactly one of --delegate-dir and --issuer-socket is required")
			}
			if err := ensureDir(outputDir); err != nil {
				return err
			}
			certificatePath := filepath.Join(outputDir, ghostCertificateFile)
			keyPath := filepath.Join(outputDir, ghostSigningKeyFile)
			if err := refuseExisting(certificatePath, keyPath); err != nil {
				return err
			}

			var master ed25519.PublicKey
			if masterKeyPath != "" {
				var err error
				if master, err = readMasterVerifyingKey(masterKeyPath); err != nil {
					return err
				}
			}

			var (
				certificate *ghostkey.GhostKeyCertificate
				signingKey  ghostkey.GhostSigningKey
				err         error
			)
			if issuerSocket != "" {
				certificate, signingKey, err = requestGhostKey(issuerSocket, issuance.Request{
					AuthorizationID: authorizationID,
					Tier:            tier,
					Requester:       requester,
				}, master, logger)
			} else {
				certificate, signingKey, err = issueLocally(delegateDir, tier, ageIdentity, master, logger)
			}
			if err != nil {
				return err
			}
			defer secret.Zero(signingKey.Seed)

			if master != nil {
				if _, err := certificate.Verify(master); err != nil {
					return err
				}
			}

			if err := armor.WriteFile(certificatePath, *certificate, 0o644); err != nil {
				return err
			}
			e.printf("Ghost key certificate written: %s\n", certificatePath)
			if err := writeSigningKey(keyPath, signingKey, false); err != nil {
				return err
			}
			e.printf("Ghost key signing key written: %s\n", keyPath)
			return nil
		},
	}
}

func issueLocally(dir string, tier int64, ageIdentity string, master ed25519.PublicKey, logger *slog.Logger) (*ghostkey.GhostKeyCertificate, ghostkey.GhostSigningKey, error) {
	config := delegatestore.Config{Dir: dir, Master: master, Logger: logger}
	if ageIdentity != "" {
		identity, err := secret.ReadFile(ageIdentity)
		if err != nil {
			return nil, ghostkey.GhostSigningKey{}, errkind.New(errkind.IO, "read age identity", err)
		}
		defer identity.Close()
		config.Identity = identity
	}
	store, err := delegatestore.Open(config)
	if err != nil {
		return nil, ghostkey.GhostSigningKey{}, err
	}

	var delegate *delegatestore.Delegate
	if tier > 0 {
		delegate, err = store.Get(tier)
	} else {
		delegate, err = store.LoadPair(filepath.Join(dir, delegateCertificate), filepath.Join(dir, delegateSigningKey))
	}
	if err != nil {
		return nil, ghostkey.GhostSigningKey{}, err
	}
	logger.Debug("signing with local delegate", "info", delegate.Certificate.Payload.Info)
	return ghostkey.Issue(delegate.Certificate, delegate)
}

func requestGhostKey(socketPath string, request issuance.Request, master ed25519.PublicKey, logger *slog.Logger) (*ghostkey.GhostKeyCertificate, ghostkey.GhostSigningKey, error) {
	var none ghostkey.GhostSigningKey
	if err := required("authorization", request.AuthorizationID); err != nil {
		return nil, none, err
	}
	if err := required("requester", request.Requester); err != nil {
		return nil, none, err
	}
	if request.Tier <= 0 {
		return nil, none, errkind.Errorf(errkind.InvalidInput, "parse flags", "--tier is required in issuer mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), issuerCallTimeout)
	defer cancel()
	client := issuance.NewClient(socketPath)

	delegate, err := client.DelegateCertificate(ctx, request.Tier)
	if err != nil {
		return nil, none, err
	}
	if master != nil {
		if _, err := delegate.Verify(master); err != nil {
			return nil, none, fmt.Errorf("issuer delegate for tier %d: %w", request.Tier, err)
		}
	}

	pending, err := ghostkey.BeginGhostKey(delegate)
	if err != nil {
		return nil, none, err
	}
	defer pending.Close()
	request.BlindedKey = base64.StdEncoding.EncodeToString(pending.BlindedVerifyingKey)

	logger.Debug("requesting blind signature", "socket", socketPath, "tier", request.Tier, "authorization", request.AuthorizationID)
	response, err := client.SignCertificate(ctx, request)
	if err != nil {
		return nil, none, err
	}
	blindSignature, err := base64.StdEncoding.DecodeString(response.BlindSignature)
	if err != nil {
		return nil, none, errkind.New(errkind.Base64Decode, "decode blind signature", err)
	}
	return pending.Finish(blindSignature)
}

func verifyGhostKeyCommand(e env) *cli.Command {
	var (
		masterKeyPath   string
		certificatePath string
		logs            logging
	)
	return &cli.Command{
		Name:    "verify-ghost-key",
		Summary: "Verify a ghost key certificate against the master verifying key",
		Usage:   "ghostkey verify-ghost-key --master-verifying-key FILE --ghost-certificate FILE",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify-ghost-key", pflag.ContinueOnError)
			flagSet.StringVar(&masterKeyPath, "master-verifying-key", "", "master verifying key file")
			flagSet.StringVar(&certificatePath, "ghost-certificate", "", "ghost key certificate file")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("verify-ghost-key")
			if err := required("ghost-certificate", certificatePath); err != nil {
				return err
			}
			master, err := readMasterVerifyingKey(masterKeyPath)
			if err != nil {
				return err
			}
			certificate, err := armor.ReadFile[ghostkey.GhostKeyCertificate](certificatePath)
			if err != nil {
				return fmt.Errorf("reading ghost key certificate: %w", err)
			}
			info, err := certificate.Verify(master)
			if err != nil {
				return err
			}
			logger.Debug("ghost key certificate verified", "path", certificatePath)
			e.printf("Ghost key certificate verified\nInfo: %s\n", info)
			return nil
		},
	}
}

func signMessageCommand(e env) *cli.Command {
	var (
		certificatePath   string
		keyPath           string
		message           string
		outputPath        string
		ignorePermissions bool
		logs              logging
	)
	return &cli.Command{
		Name:    "sign-message",
		Summary: "Sign a message with a ghost key",
		Description: `Sign a message with a ghost key. The output carries the ghost key
certificate, so anyone holding the master verifying key can check it.

--message is read as a file when it names one, and taken literally
otherwise.`,
		Usage: "ghostkey sign-message --ghost-certificate FILE --ghost-signing-key FILE --message FILE|TEXT --output FILE",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sign-message", pflag.ContinueOnError)
			flagSet.StringVar(&certificatePath, "ghost-certificate", "", "ghost key certificate file")
			flagSet.StringVar(&keyPath, "ghost-signing-key", "", "ghost key signing key file")
			flagSet.StringVar(&message, "message", "", "message file, or the message itself")
			flagSet.StringVar(&outputPath, "output", "", "file to write the signed message to")
			flagSet.BoolVar(&ignorePermissions, "ignore-permissions", false, "skip the signing key file mode check")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("sign-message")
			for _, flag := range []struct{ name, value string }{
				{"ghost-certificate", certificatePath},
				{"ghost-signing-key", keyPath},
				{"message", message},
				{"output", outputPath},
			} {
				if err := required(flag.name, flag.value); err != nil {
					return err
				}
			}
			if err := refuseExisting(outputPath); err != nil {
				return err
			}
			if !ignorePermissions {
				if err := requireStrictPermissions(keyPath); err != nil {
					return err
				}
			}

			certificate, err := armor.ReadFile[ghostkey.GhostKeyCertificate](certificatePath)
			if err != nil {
				return fmt.Errorf("reading ghost key certificate: %w", err)
			}
			signingKey, err := armor.ReadFile[ghostkey.GhostSigningKey](keyPath)
			if err != nil {
				return fmt.Errorf("reading ghost signing key: %w", err)
			}
			defer secret.Zero(signingKey.Seed)
			content, err := readMessage(message)
			if err != nil {
				return err
			}

			signed, err := ghostkey.SignMessage(&certificate, signingKey, content)
			if err != nil {
				return err
			}
			if err := armor.WriteFile(outputPath, *signed, 0o644); err != nil {
				return err
			}
			logger.Debug("message signed", "bytes", len(content), "output", outputPath)
			e.printf("Signed message written: %s\n", outputPath)
			return nil
		},
	}
}

func verifySignedMessageCommand(e env) *cli.Command {
	var (
		masterKeyPath string
		signedPath    string
		outputPath    string
		logs          logging
	)
	return &cli.Command{
		Name:    "verify-signed-message",
		Summary: "Verify a signed message and extract its content",
		Description: `Verify a message signed with sign-message: the ghost key certificate
chain against the master verifying key, then the signature.

The message is written to --output, or to stdout when --output is
omitted; the verification summary then goes to stderr.`,
		Usage: "ghostkey verify-signed-message --master-verifying-key FILE --signed-message FILE [--output FILE]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify-signed-message", pflag.ContinueOnError)
			flagSet.StringVar(&masterKeyPath, "master-verifying-key", "", "master verifying key file")
			flagSet.StringVar(&signedPath, "signed-message", "", "signed message file")
			flagSet.StringVar(&outputPath, "output", "", "file to write the verified message to")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("verify-signed-message")
			if err := required("signed-message", signedPath); err != nil {
				return err
			}
			master, err := readMasterVerifyingKey(masterKeyPath)
			if err != nil {
				return err
			}
			signed, err := armor.ReadFile[ghostkey.SignedMessage](signedPath)
			if err != nil {
				return fmt.Errorf("reading signed message: %w", err)
			}
			info, err := signed.Verify(master)
			if err != nil {
				return err
			}
			logger.Debug("signed message verified", "path", signedPath, "bytes", len(signed.Message))

			summary := e.stdout
			if outputPath != "" {
				if err := os.WriteFile(outputPath, signed.Message, 0o644); err != nil {
					return errkind.New(errkind.IO, "write message", err)
				}
			} else {
				if _, err := e.stdout.Write(signed.Message); err != nil {
					return errkind.New(errkind.IO, "write message", err)
				}
				summary = e.stderr
			}
			fmt.Fprintf(summary, "Signed message verified\nInfo: %s\n", info)
			return nil
		},
	}
}
