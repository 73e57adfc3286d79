// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/freenet/ghostkey/cmd/ghostkey/cli"
	"github.com/freenet/ghostkey/lib/armor"
	"github.com/freenet/ghostkey/lib/delegatestore"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/ghostkey"
	"github.com/freenet/ghostkey/lib/sealed"
	"github.com/freenet/ghostkey/lib/secret"
)

func generateMasterKeyCommand(e env) *cli.Command {
	var (
		outputDir         string
		ignorePermissions bool
		logs              logging
	)
	return &cli.Command{
		Name:    "generate-master-key",
		Summary: "Generate the master key pair",
		Description: `Generate the Ed25519 master key pair that signs every delegate.

Writes master_signing_key.pem (mode 0600) and master_verifying_key.pem
into the output directory. Existing files are never overwritten. Keep
the signing key offline; distribute the verifying key to verifiers.`,
		Usage: "ghostkey generate-master-key --output-dir DIR [flags]",
		Examples: []cli.Example{{
			Description: "Create a master key pair in ./master",
			Command:     "ghostkey generate-master-key --output-dir ./master",
		}},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("generate-master-key", pflag.ContinueOnError)
			flagSet.StringVar(&outputDir, "output-dir", "", "directory to write the key pair into")
			flagSet.BoolVar(&ignorePermissions, "ignore-permissions", false, "skip the signing key file mode check")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("generate-master-key")
			if err := ensureDir(outputDir); err != nil {
				return err
			}
			signingPath := filepath.Join(outputDir, masterSigningKeyFile)
			verifyingPath := filepath.Join(outputDir, masterVerifyingKeyFile)
			if err := refuseExisting(signingPath, verifyingPath); err != nil {
				return err
			}

			signing, verifying, err := ghostkey.GenerateMasterKey()
			if err != nil {
				return err
			}
			defer secret.Zero(signing.Seed)

			logger.Debug("writing master signing key", "path", signingPath)
			if err := writeSigningKey(signingPath, signing, ignorePermissions); err != nil {
				return err
			}
			e.printf("Master signing key written: %s\n", signingPath)

			logger.Debug("writing master verifying key", "path", verifyingPath)
			if err := armor.WriteFile(verifyingPath, verifying, 0o644); err != nil {
				return err
			}
			e.printf("Master verifying key written: %s\n", verifyingPath)
			return nil
		},
	}
}

func generateDelegateCommand(e env) *cli.Command {
	var (
		masterKeyPath     string
		info              string
		outputDir         string
		tier              int64
		sealTo            []string
		ignorePermissions bool
		logs              logging
	)
	return &cli.Command{
		Name:    "generate-delegate",
		Summary: "Generate a delegate certificate signed by the master key",
		Description: `Generate an RSA-2048 delegate key and a certificate binding it to
--info, signed by the master signing key.

Without --tier the pair is written as delegate_certificate.pem and
delegate_signing_key.pem. With --tier N it is written in the issuer's
directory layout, delegate_certificate_N.pem and
delegate_signing_key_N.pem.

--seal-to encrypts the signing key to an age recipient (repeatable).
An issuer opens sealed keys with the matching identity.`,
		Usage: "ghostkey generate-delegate --master-signing-key FILE --info TEXT --output-dir DIR [flags]",
		Examples: []cli.Example{
			{
				Description: "Create the $20 tier delegate for an issuer",
				Command:     "ghostkey generate-delegate --master-signing-key master/master_signing_key.pem --info tier:20 --tier 20 --output-dir delegates",
			},
			{
				Description: "Seal the delegate key at rest",
				Command:     "ghostkey generate-delegate --master-signing-key master/master_signing_key.pem --info tier:50 --tier 50 --output-dir delegates --seal-to age1...",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("generate-delegate", pflag.ContinueOnError)
			flagSet.StringVar(&masterKeyPath, "master-signing-key", "", "master signing key file")
			flagSet.StringVar(&info, "info", "", "delegate info embedded in every ghost key it issues")
			flagSet.StringVar(&outputDir, "output-dir", "", "directory to write the delegate into")
			flagSet.Int64Var(&tier, "tier", 0, "write tier-named files for an issuer delegate directory")
			flagSet.StringArrayVar(&sealTo, "seal-to", nil, "age recipient to seal the signing key to (repeatable)")
			flagSet.BoolVar(&ignorePermissions, "ignore-permissions", false, "skip signing key file mode checks")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("generate-delegate")
			if err := required("master-signing-key", masterKeyPath); err != nil {
				return err
			}
			if err := required("info", info); err != nil {
				return err
			}
			if tier < 0 {
				return errkind.Errorf(errkind.InvalidInput, "parse flags", "--tier must not be negative")
			}
			for _, recipient := range sealTo {
				if err := sealed.ParsePublicKey(recipient); err != nil {
					return err
				}
			}
			if err := ensureDir(outputDir); err != nil {
				return err
			}

			certificatePath := filepath.Join(outputDir, delegateCertificate)
			keyPath := filepath.Join(outputDir, delegateSigningKey)
			if tier > 0 {
				certificatePath = delegatestore.CertificatePath(outputDir, tier)
				keyPath = delegatestore.SigningKeyPath(outputDir, tier)
			}
			if err := refuseExisting(certificatePath, keyPath); err != nil {
				return err
			}

			if !ignorePermissions {
				if err := requireStrictPermissions(masterKeyPath); err != nil {
					return err
				}
			}
			masterKey, err := armor.ReadFile[ghostkey.MasterSigningKey](masterKeyPath)
			if err != nil {
				return fmt.Errorf("reading master signing key: %w", err)
			}
			master, err := ghostkey.OpenMaster(masterKey)
			if err != nil {
				return err
			}
			defer master.Close()

			certificate, key, err := ghostkey.NewDelegate(master, info)
			if err != nil {
				return err
			}
			logger.Debug("writing delegate", "certificate", certificatePath, "key", keyPath, "sealed", len(sealTo) > 0)
			if err := delegatestore.SaveAs(certificatePath, keyPath, certificate, key, sealTo); err != nil {
				return err
			}
			if !ignorePermissions {
				if err := requireStrictPermissions(keyPath); err != nil {
					return err
				}
			}
			e.printf("Delegate certificate written: %s\n", certificatePath)
			if len(sealTo) > 0 {
				e.printf("Delegate signing key written (sealed to %d recipients): %s\n", len(sealTo), keyPath)
			} else {
				e.printf("Delegate signing key written: %s\n", keyPath)
			}
			return nil
		},
	}
}

func verifyDelegateCommand(e env) *cli.Command {
	var (
		masterKeyPath   string
		certificatePath string
		logs            logging
	)
	return &cli.Command{
		Name:    "verify-delegate-key",
		Aliases: []string{"verify-delegate"},
		Summary: "Verify a delegate certificate against the master verifying key",
		Usage:   "ghostkey verify-delegate-key --master-verifying-key FILE --delegate-certificate FILE",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify-delegate-key", pflag.ContinueOnError)
			flagSet.StringVar(&masterKeyPath, "master-verifying-key", "", "master verifying key file")
			flagSet.StringVar(&certificatePath, "delegate-certificate", "", "delegate certificate file")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("verify-delegate-key")
			if err := required("delegate-certificate", certificatePath); err != nil {
				return err
			}
			master, err := readMasterVerifyingKey(masterKeyPath)
			if err != nil {
				return err
			}
			certificate, err := armor.ReadFile[ghostkey.DelegateCertificate](certificatePath)
			if err != nil {
				return fmt.Errorf("reading delegate certificate: %w", err)
			}
			info, err := certificate.Verify(master)
			if err != nil {
				return err
			}
			logger.Debug("delegate certificate verified", "path", certificatePath)
			e.printf("Delegate certificate verified\nInfo: %s\n", info)
			return nil
		},
	}
}

func generateAgeIdentityCommand(e env) *cli.Command {
	var (
		output            string
		ignorePermissions bool
		logs              logging
	)
	return &cli.Command{
		Name:    "generate-age-identity",
		Summary: "Generate an age identity for sealing delegate keys",
		Description: `Generate an age X25519 identity and write it to --output with mode
0600. The matching recipient is printed; pass it to
generate-delegate --seal-to and give the identity file to the issuer
as --age-identity or sealed.identity.`,
		Usage: "ghostkey generate-age-identity --output FILE [flags]",
		Examples: []cli.Example{{
			Description: "Create the issuer's unsealing identity",
			Command:     "ghostkey generate-age-identity --output /srv/ghostkey/issuer.age",
		}},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("generate-age-identity", pflag.ContinueOnError)
			flagSet.StringVar(&output, "output", "", "file to write the identity to")
			flagSet.BoolVar(&ignorePermissions, "ignore-permissions", false, "skip the identity file mode check")
			logs.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			logger := logs.logger("generate-age-identity")
			if err := required("output", output); err != nil {
				return err
			}
			if err := refuseExisting(output); err != nil {
				return err
			}
			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			logger.Debug("writing age identity", "path", output)
			if err := writeSecretFile(output, keypair.Identity.Bytes(), ignorePermissions); err != nil {
				return err
			}
			e.printf("Age identity written: %s\n", output)
			e.printf("Age recipient: %s\n", keypair.Recipient)
			return nil
		},
	}
}
