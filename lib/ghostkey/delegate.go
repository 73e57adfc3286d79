// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package ghostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"

	"github.com/freenet/ghostkey/lib/blindsig"
	"github.com/freenet/ghostkey/lib/codec"
	"github.com/freenet/ghostkey/lib/errkind"
)

// DelegateKeyBits is the RSA modulus size of newly created delegates.
const DelegateKeyBits = 2048

// ErrInvalidSignature is wrapped by every chain verification failure.
var ErrInvalidSignature = errors.New("ghostkey: invalid signature")

// DelegatePayload is the part of a delegate certificate the master
// signs. DelegatePublicKey is PKIX DER.
type DelegatePayload struct {
	DelegatePublicKey []byte `cbor:"1,keyasint"`
	Info              string `cbor:"2,keyasint"`
}

// DelegateCertificate binds one tier's RSA blind-signing key to its
// info string under the master key.
type DelegateCertificate struct {
	Payload   DelegatePayload `cbor:"1,keyasint"`
	Signature []byte          `cbor:"2,keyasint"`
}

// DelegateSigningKey is the armored form of a delegate RSA private
// key, PKCS#8 DER.
type DelegateSigningKey struct {
	PKCS8 []byte `cbor:"1,keyasint"`
}

// NewDelegate creates a fresh RSA-2048 delegate key and a certificate
// for it signed by master.
func NewDelegate(master *Master, info string) (*DelegateCertificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, DelegateKeyBits)
	if err != nil {
		return nil, nil, errkind.New(errkind.KeyCreation, "generate delegate key", err)
	}
	certificate, err := SignDelegate(master, &key.PublicKey, info)
	if err != nil {
		return nil, nil, err
	}
	return certificate, key, nil
}

// SignDelegate certifies an existing RSA public key.
func SignDelegate(master *Master, public *rsa.PublicKey, info string) (*DelegateCertificate, error) {
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "encode delegate public key", err)
	}
	payload := DelegatePayload{DelegatePublicKey: der, Info: info}
	signable, err := codec.Signable(payload)
	if err != nil {
		return nil, errkind.New(errkind.Serialization, "sign delegate", err)
	}
	return &DelegateCertificate{
		Payload:   payload,
		Signature: master.Sign(signable),
	}, nil
}

// Verify checks the master signature over the payload and returns
// Payload.Info. Nothing else is returned on failure.
func (c *DelegateCertificate) Verify(master ed25519.PublicKey) (string, error) {
	if len(master) != ed25519.PublicKeySize {
		return "", errkind.Errorf(errkind.KeyCreation, "verify delegate",
			"master key is %d bytes, want %d", len(master), ed25519.PublicKeySize)
	}
	if len(c.Signature) != ed25519.SignatureSize {
		return "", errkind.Errorf(errkind.Signature, "verify delegate",
			"signature is %d bytes, want %d", len(c.Signature), ed25519.SignatureSize)
	}
	signable, err := codec.Signable(c.Payload)
	if err != nil {
		return "", errkind.New(errkind.Serialization, "verify delegate", err)
	}
	if !ed25519.Verify(master, signable, c.Signature) {
		return "", errkind.New(errkind.SignatureVerification, "verify delegate", ErrInvalidSignature)
	}
	return c.Payload.Info, nil
}

// PublicKey parses the delegate's RSA public key.
func (c *DelegateCertificate) PublicKey() (*rsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(c.Payload.DelegatePublicKey)
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "parse delegate public key", err)
	}
	public, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errkind.Errorf(errkind.KeyCreation, "parse delegate public key",
			"delegate key is %T, not RSA", parsed)
	}
	if bits := public.N.BitLen(); bits < blindsig.MinModulusBits {
		return nil, errkind.Errorf(errkind.KeyCreation, "parse delegate public key",
			"delegate key is %d bits", bits)
	}
	return public, nil
}

// Matches reports whether key is the private half of the certified
// delegate key.
func (c *DelegateCertificate) Matches(key *rsa.PrivateKey) bool {
	public, err := c.PublicKey()
	if err != nil {
		return false
	}
	return public.Equal(&key.PublicKey)
}

// NewDelegateSigningKey encodes key for storage.
func NewDelegateSigningKey(key *rsa.PrivateKey) (DelegateSigningKey, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return DelegateSigningKey{}, errkind.New(errkind.KeyCreation, "encode delegate signing key", err)
	}
	return DelegateSigningKey{PKCS8: der}, nil
}

// PrivateKey parses the stored RSA private key.
func (k DelegateSigningKey) PrivateKey() (*rsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(k.PKCS8)
	if err != nil {
		// The parse error never includes key bytes.
		return nil, errkind.New(errkind.KeyCreation, "parse delegate signing key", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errkind.Errorf(errkind.KeyCreation, "parse delegate signing key",
			"key is %T, not RSA", parsed)
	}
	return key, nil
}
