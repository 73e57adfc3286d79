// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"

	"github.com/freenet/ghostkey/lib/armor"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/ghostkey"
)

const (
	masterSigningKeyFile   = "master_signing_key.pem"
	masterVerifyingKeyFile = "master_verifying_key.pem"
	delegateCertificate    = "delegate_certificate.pem"
	delegateSigningKey     = "delegate_signing_key.pem"
	ghostCertificateFile   = "ghost_key_certificate.pem"
	ghostSigningKeyFile    = "ghost_key_signing_key.pem"
)

// requireStrictPermissions fails when group or others have any access
// to path.
func requireStrictPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errkind.New(errkind.IO, "check permissions", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return errkind.Errorf(errkind.Key, "check permissions",
			"%s is accessible by group or others (mode %04o); run \"chmod 600 %s\" or pass --ignore-permissions",
			path, info.Mode().Perm(), path)
	}
	return nil
}

// refuseExisting fails if any of paths exists.
func refuseExisting(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return errkind.Errorf(errkind.IO, "write output", "%s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return errkind.New(errkind.IO, "write output", err)
		}
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" {
		return errkind.Errorf(errkind.InvalidInput, "create output directory", "--output-dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.New(errkind.IO, "create output directory", err)
	}
	return nil
}

// writeSigningKey writes a secret armored value with mode 0600 and,
// unless ignorePermissions, confirms the result is not readable by
// anyone else.
func writeSigningKey[T any](path string, value T, ignorePermissions bool) error {
	if err := armor.WriteFile(path, value, 0o600); err != nil {
		return err
	}
	if ignorePermissions {
		return nil
	}
	return requireStrictPermissions(path)
}

// writeSecretFile creates path with mode 0600 and writes data followed
// by a newline. It never replaces an existing file.
func writeSecretFile(path string, data []byte, ignorePermissions bool) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errkind.New(errkind.IO, "write output", err)
	}
	_, err = file.Write(data)
	if err == nil {
		_, err = file.Write([]byte("\n"))
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return errkind.New(errkind.IO, "write output", err)
	}
	if ignorePermissions {
		return nil
	}
	return requireStrictPermissions(path)
}

func readMasterVerifyingKey(path string) (ed25519.PublicKey, error) {
	if path == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, "read master verifying key", "--master-verifying-key is required")
	}
	key, err := armor.ReadFile[ghostkey.MasterVerifyingKey](path)
	if err != nil {
		return nil, fmt.Errorf("reading master verifying key: %w", err)
	}
	return key.PublicKey()
}

// readMessage returns the contents of value when it names a regular
// file, and value itself otherwise.
func readMessage(value string) ([]byte, error) {
	info, err := os.Stat(value)
	if err != nil || !info.Mode().IsRegular() {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, errkind.New(errkind.IO, "read message", err)
	}
	return data, nil
}

func required(flag, value string) error {
	if value == "" {
		return errkind.Errorf(errkind.InvalidInput, "parse flags", "--%s is required", flag)
	}
	return nil
}
