// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package armor

import (
	"fmt"
	"os"

	"github.com/freenet/ghostkey/lib/errkind"
)

// WriteFile armors value under Label[T]() and writes it to path with
// the given permissions. An existing file is replaced.
func WriteFile[T any](path string, value T, perm os.FileMode) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}
	return writeArmored(path, data, perm)
}

func writeArmored(path string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return errkind.New(errkind.IO, "write armor file", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return errkind.New(errkind.IO, "write armor file", fmt.Errorf("%s: %w", path, err))
	}
	if err := file.Close(); err != nil {
		return errkind.New(errkind.IO, "write armor file", fmt.Errorf("%s: %w", path, err))
	}
	// OpenFile applies perm only on creation and through the umask.
	if err := os.Chmod(path, perm); err != nil {
		return errkind.New(errkind.IO, "write armor file", err)
	}
	return nil
}

// ReadFile reads path and decodes the first matching block for T.
func ReadFile[T any](path string) (T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		var zero T
		return zero, errkind.New(errkind.IO, "read armor file", err)
	}
	value, err := Decode[T](data)
	if err != nil {
		return value, fmt.Errorf("%s: %w", path, err)
	}
	return value, nil
}
