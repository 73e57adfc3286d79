// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package delegatestore reads and writes the per-tier delegate
// directory an issuer signs from.
//
// Layout, one pair per tier:
//
//	delegate_certificate_<tier>.pem   DELEGATE_CERTIFICATE_V1 armor
//	delegate_signing_key_<tier>.pem   DELEGATE_SIGNING_KEY_V1 armor, or
//	                                  SEALED_DELEGATE_SIGNING_KEY_V1 (age)
//
// A [Store] loads each tier at most once and caches the parsed key.
// Sealed keys are opened with the age identity given in [Config]; a
// store without an identity refuses sealed keys.
package delegatestore

import (
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"

	"github.com/freenet/ghostkey/lib/armor"
	"github.com/freenet/ghostkey/lib/blindsig"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/ghostkey"
	"github.com/freenet/ghostkey/lib/sealed"
	"github.com/freenet/ghostkey/lib/secret"
)

// ErrUnknownTier is wrapped in a Key error when no delegate exists for
// the requested tier.
var ErrUnknownTier = errors.New("delegatestore: no delegate for tier")

// SealedDelegateSigningKey is a delegate PKCS#8 private key encrypted
// with age. Recipients lists the age1... keys it was sealed to, for
// operator diagnostics only.
type SealedDelegateSigningKey struct {
	Recipients []string `cbor:"1,keyasint"`
	Ciphertext []byte   `cbor:"2,keyasint"`
}

// CertificatePath returns the certificate file for tier in dir.
func CertificatePath(dir string, tier int64) string {
	return filepath.Join(dir, fmt.Sprintf("delegate_certificate_%d.pem", tier))
}

// SigningKeyPath returns the signing key file for tier in dir.
func SigningKeyPath(dir string, tier int64) string {
	return filepath.Join(dir, fmt.Sprintf("delegate_signing_key_%d.pem", tier))
}

var certificateName = regexp.MustCompile(`^delegate_certificate_(\d+)\.pem$`)

// Config configures a Store.
type Config struct {
	// Dir is the delegate directory.
	Dir string

	// Identity is an age identity file used to open sealed signing
	// keys. Borrowed; the caller closes it after closing the Store.
	Identity *secret.Buffer

	// Master, when set, is used to verify every certificate as it is
	// loaded.
	Master ed25519.PublicKey

	Logger *slog.Logger
}

// Delegate is one loaded tier. It implements [blindsig.BlindSigner].
type Delegate struct {
	Tier        int64
	Certificate *ghostkey.DelegateCertificate
	signer      *blindsig.Signer
}

// Sign blind-signs with the tier's delegate key.
func (d *Delegate) Sign(blinded []byte) ([]byte, error) { return d.signer.Sign(blinded) }

// Store loads delegates from a directory on demand.
type Store struct {
	dir      string
	identity *secret.Buffer
	master   ed25519.PublicKey
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[int64]*Delegate
}

// Open returns a Store over cfg.Dir, which must exist.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, "open delegate store", "directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, errkind.New(errkind.IO, "open delegate store", err)
	}
	if !info.IsDir() {
		return nil, errkind.Errorf(errkind.InvalidInput, "open delegate store", "%s is not a directory", cfg.Dir)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		dir:      cfg.Dir,
		identity: cfg.Identity,
		master:   cfg.Master,
		logger:   logger,
		cache:    make(map[int64]*Delegate),
	}, nil
}

// Dir returns the directory the store reads.
func (s *Store) Dir() string { return s.dir }

// Get returns the delegate for tier, loading it on first use.
func (s *Store) Get(tier int64) (*Delegate, error) {
	s.mu.RLock()
	delegate, ok := s.cache[tier]
	s.mu.RUnlock()
	if ok {
		return delegate, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if delegate, ok := s.cache[tier]; ok {
		return delegate, nil
	}
	delegate, err := s.load(tier)
	if err != nil {
		return nil, err
	}
	s.cache[tier] = delegate
	s.logger.Info("delegate loaded", "tier", tier, "info", delegate.Certificate.Payload.Info)
	return delegate, nil
}

// Certificate returns the tier's certificate without loading its
// signing key.
func (s *Store) Certificate(tier int64) (*ghostkey.DelegateCertificate, error) {
	s.mu.RLock()
	delegate, ok := s.cache[tier]
	s.mu.RUnlock()
	if ok {
		return delegate.Certificate, nil
	}
	return s.readCertificate(tier)
}

// Tiers lists the tiers with a certificate file in the directory.
func (s *Store) Tiers() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errkind.New(errkind.IO, "list delegate tiers", err)
	}
	var tiers []int64
	for _, entry := range entries {
		match := certificateName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		tier, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		tiers = append(tiers, tier)
	}
	slices.Sort(tiers)
	return tiers, nil
}

// LoadPair loads a delegate from explicit certificate and signing key
// paths, outside the tier layout. The result is not cached and has
// Tier 0.
func (s *Store) LoadPair(certificatePath, keyPath string) (*Delegate, error) {
	return s.loadPaths(0, certificatePath, keyPath)
}

func (s *Store) readCertificate(tier int64) (*ghostkey.DelegateCertificate, error) {
	return s.readCertificateAt(tier, CertificatePath(s.dir, tier))
}

func (s *Store) readCertificateAt(tier int64, path string) (*ghostkey.DelegateCertificate, error) {
	certificate, err := armor.ReadFile[ghostkey.DelegateCertificate](path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errkind.New(errkind.Key, "load delegate", fmt.Errorf("%w %d", ErrUnknownTier, tier))
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if s.master != nil {
		if _, err := certificate.Verify(s.master); err != nil {
			return nil, fmt.Errorf("delegate certificate %s: %w", path, err)
		}
	}
	return &certificate, nil
}

func (s *Store) load(tier int64) (*Delegate, error) {
	return s.loadPaths(tier, CertificatePath(s.dir, tier), SigningKeyPath(s.dir, tier))
}

func (s *Store) loadPaths(tier int64, certificatePath, keyPath string) (*Delegate, error) {
	certificate, err := s.readCertificateAt(tier, certificatePath)
	if err != nil {
		return nil, err
	}
	key, err := s.readSigningKey(keyPath)
	if err != nil {
		return nil, err
	}
	if !certificate.Matches(key) {
		return nil, errkind.Errorf(errkind.Key, "load delegate",
			"signing key %s does not match its certificate", keyPath)
	}
	signer, err := blindsig.NewSigner(key)
	if err != nil {
		return nil, err
	}
	return &Delegate{Tier: tier, Certificate: certificate, signer: signer}, nil
}

func (s *Store) readSigningKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errkind.Errorf(errkind.Key, "load delegate", "signing key %s is missing", path)
	}
	if err != nil {
		return nil, errkind.New(errkind.IO, "load delegate", err)
	}

	sealedKey, err := armor.Decode[SealedDelegateSigningKey](data)
	switch {
	case err == nil:
		return s.unseal(sealedKey)
	case !errors.Is(err, armor.ErrNoBlock):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	plain, err := armor.Decode[ghostkey.DelegateSigningKey](data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer secret.Zero(plain.PKCS8)
	return plain.PrivateKey()
}

func (s *Store) unseal(key SealedDelegateSigningKey) (*rsa.PrivateKey, error) {
	if s.identity == nil {
		return nil, errkind.Errorf(errkind.Key, "unseal delegate key", "signing key is sealed and no age identity is configured")
	}
	plaintext, err := sealed.Decrypt(key.Ciphertext, s.identity)
	if err != nil {
		return nil, err
	}
	defer plaintext.Close()
	return ghostkey.DelegateSigningKey{PKCS8: plaintext.Bytes()}.PrivateKey()
}

// Save writes a tier's certificate and signing key into dir. With
// sealTo set, the key is age-encrypted to those recipients. Existing
// files are never overwritten.
func Save(dir string, tier int64, certificate *ghostkey.DelegateCertificate, key *rsa.PrivateKey, sealTo []string) error {
	return SaveAs(CertificatePath(dir, tier), SigningKeyPath(dir, tier), certificate, key, sealTo)
}

// SaveAs is Save with explicit file paths.
func SaveAs(certificatePath, keyPath string, certificate *ghostkey.DelegateCertificate, key *rsa.PrivateKey, sealTo []string) error {
	for _, path := range []string{certificatePath, keyPath} {
		if _, err := os.Stat(path); err == nil {
			return errkind.Errorf(errkind.IO, "save delegate", "%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return errkind.New(errkind.IO, "save delegate", err)
	}

	stored, err := ghostkey.NewDelegateSigningKey(key)
	if err != nil {
		return err
	}
	defer secret.Zero(stored.PKCS8)

	if len(sealTo) > 0 {
		ciphertext, err := sealed.Encrypt(stored.PKCS8, sealTo)
		if err != nil {
			return err
		}
		err = armor.WriteFile(keyPath, SealedDelegateSigningKey{Recipients: sealTo, Ciphertext: ciphertext}, 0o600)
		if err != nil {
			return err
		}
	} else if err := armor.WriteFile(keyPath, stored, 0o600); err != nil {
		return err
	}
	return armor.WriteFile(certificatePath, *certificate, 0o644)
}
