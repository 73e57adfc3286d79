// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package ghostkey

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/secret"
)

// MasterSigningKey is the armored form of the master Ed25519 seed.
type MasterSigningKey struct {
	Seed []byte `cbor:"1,keyasint"`
}

// MasterVerifyingKey is the armored form of the master public key,
// distributed to every verifier.
type MasterVerifyingKey struct {
	Key []byte `cbor:"1,keyasint"`
}

// PublicKey validates and returns the verifying key.
func (k MasterVerifyingKey) PublicKey() (ed25519.PublicKey, error) {
	if len(k.Key) != ed25519.PublicKeySize {
		return nil, errkind.Errorf(errkind.KeyCreation, "master verifying key",
			"key is %d bytes, want %d", len(k.Key), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(k.Key), nil
}

// GenerateMasterKey creates a new master key pair.
func GenerateMasterKey() (MasterSigningKey, MasterVerifyingKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return MasterSigningKey{}, MasterVerifyingKey{}, errkind.New(errkind.KeyCreation, "generate master key", err)
	}
	seed := private.Seed()
	secret.Zero(private)
	return MasterSigningKey{Seed: seed}, MasterVerifyingKey{Key: public}, nil
}

// Master holds the master seed in locked memory for signing delegate
// certificates.
type Master struct {
	seed   *secret.Buffer
	public ed25519.PublicKey
}

// OpenMaster moves key.Seed into locked memory and zeroes it. The
// caller must Close the returned Master.
func OpenMaster(key MasterSigningKey) (*Master, error) {
	seed, public, err := openSeed("master signing key", key.Seed)
	if err != nil {
		return nil, err
	}
	return &Master{seed: seed, public: public}, nil
}

// Public returns the master verifying key.
func (m *Master) Public() ed25519.PublicKey { return m.public }

// Verifying returns the armorable master verifying key.
func (m *Master) Verifying() MasterVerifyingKey {
	return MasterVerifyingKey{Key: append([]byte(nil), m.public...)}
}

// Sign signs message with the master key.
func (m *Master) Sign(message []byte) []byte {
	return signWithSeed(m.seed, message)
}

// Close releases the seed.
func (m *Master) Close() error { return m.seed.Close() }

// openSeed validates an Ed25519 seed, copies it into a secret buffer
// (zeroing the source), and derives the public key.
func openSeed(op string, seed []byte) (*secret.Buffer, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, errkind.Errorf(errkind.KeyCreation, op,
			"seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	private := ed25519.NewKeyFromSeed(seed)
	public := append(ed25519.PublicKey(nil), private.Public().(ed25519.PublicKey)...)
	secret.Zero(private)

	buffer, err := secret.NewFromBytes(seed)
	if err != nil {
		return nil, nil, errkind.New(errkind.KeyCreation, op, err)
	}
	return buffer, public, nil
}

func signWithSeed(seed *secret.Buffer, message []byte) []byte {
	private := ed25519.NewKeyFromSeed(seed.Bytes())
	defer secret.Zero(private)
	return ed25519.Sign(private, message)
}
