// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts delegate signing keys at rest with age
// (filippo.io/age). A delegate directory may hold its RSA private keys
// sealed to one or more operator x25519 recipients; the issuer opens
// them at startup with an identity file that never leaves the host.
//
// Identities and decrypted plaintext are held in [secret.Buffer]
// values: mmap memory outside the Go heap, locked against swap,
// excluded from core dumps and zeroed on Close.
package sealed

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/secret"
)

// Keypair is an age x25519 identity and its recipient string.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// Identity is the AGE-SECRET-KEY-1... string. Never log it.
	Identity *secret.Buffer

	// Recipient is the age1... public key. Safe to publish.
	Recipient string
}

// Close releases the identity memory. Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "generate age identity", err)
	}

	// age exposes the identity only as a string, so a short-lived heap
	// copy is unavoidable. The mmap buffer is the durable copy.
	protected, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "protect age identity", err)
	}
	return &Keypair{Identity: protected, Recipient: identity.Recipient().String()}, nil
}

// Encrypt encrypts plaintext to every recipient (age1... strings) and
// returns the binary age ciphertext.
func Encrypt(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, errkind.Errorf(errkind.InvalidInput, "seal", "at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, errkind.New(errkind.KeyCreation, "seal", fmt.Errorf("parsing recipient %q: %w", key, err))
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, errkind.New(errkind.Serialization, "seal", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, errkind.New(errkind.Serialization, "seal", err)
	}
	if err := writer.Close(); err != nil {
		return nil, errkind.New(errkind.Serialization, "seal", err)
	}
	return ciphertext.Bytes(), nil
}

// Decrypt opens ciphertext with any identity in identities, which is in
// age identity file format (comment lines allowed, one
// AGE-SECRET-KEY-1... per line). The identities buffer is borrowed and
// not closed.
//
// The caller must Close the returned plaintext buffer.
func Decrypt(ciphertext []byte, identities *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := parseIdentities(identities)
	if err != nil {
		return nil, err
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), parsed...)
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "unseal", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, errkind.New(errkind.KeyCreation, "unseal", err)
	}
	if len(plaintext) == 0 {
		return nil, errkind.Errorf(errkind.KeyCreation, "unseal", "sealed payload is empty")
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, errkind.New(errkind.KeyCreation, "unseal", err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age recipient string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(strings.TrimSpace(publicKey)); err != nil {
		return errkind.New(errkind.KeyCreation, "parse age recipient", err)
	}
	return nil
}

// ParsePrivateKey validates an identity buffer and returns the
// recipient string of each identity in it.
func ParsePrivateKey(identities *secret.Buffer) ([]string, error) {
	parsed, err := parseIdentities(identities)
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0, len(parsed))
	for _, identity := range parsed {
		if x25519, ok := identity.(*age.X25519Identity); ok {
			recipients = append(recipients, x25519.Recipient().String())
		}
	}
	return recipients, nil
}

func parseIdentities(identities *secret.Buffer) ([]age.Identity, error) {
	if identities == nil || identities.Len() == 0 {
		return nil, errkind.Errorf(errkind.KeyCreation, "parse age identity", "no identity")
	}
	// Errors from age name the failing line number, not its content.
	parsed, err := age.ParseIdentities(bytes.NewReader(identities.Bytes()))
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "parse age identity", err)
	}
	return parsed, nil
}
