// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package ghostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/freenet/ghostkey/lib/blindsig"
	"github.com/freenet/ghostkey/lib/codec"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/secret"
)

// GhostKeyCertificate binds a client's Ed25519 verifying key to a
// delegate certificate through the delegate's unblinded RSA
// signature.
type GhostKeyCertificate struct {
	Delegate     DelegateCertificate `cbor:"1,keyasint"`
	VerifyingKey []byte              `cbor:"2,keyasint"`
	Signature    []byte              `cbor:"3,keyasint"`
}

// GhostSigningKey is the armored form of a ghost key's Ed25519 seed.
// It never leaves the client.
type GhostSigningKey struct {
	Seed []byte `cbor:"1,keyasint"`
}

// SignableVerifyingKey returns the bytes the delegate signs for a
// ghost verifying key: the CBOR byte string holding the 32-byte key.
func SignableVerifyingKey(key ed25519.PublicKey) ([]byte, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, errkind.Errorf(errkind.KeyCreation, "signable verifying key",
			"key is %d bytes, want %d", len(key), ed25519.PublicKeySize)
	}
	signable, err := codec.Signable([]byte(key))
	if err != nil {
		return nil, errkind.New(errkind.Serialization, "signable verifying key", err)
	}
	return signable, nil
}

// Assemble composes a certificate. It performs no cryptography.
func Assemble(delegate DelegateCertificate, verifyingKey ed25519.PublicKey, signature []byte) *GhostKeyCertificate {
	return &GhostKeyCertificate{
		Delegate:     delegate,
		VerifyingKey: append([]byte(nil), verifyingKey...),
		Signature:    append([]byte(nil), signature...),
	}
}

// Verify checks the full chain: the delegate certificate against
// master, then the delegate's RSA signature over the verifying key.
// It returns the delegate info only when both hold. Delegate failures
// are returned unchanged; every other failure has kind
// SignatureVerification.
func (c *GhostKeyCertificate) Verify(master ed25519.PublicKey) (string, error) {
	info, err := c.Delegate.Verify(master)
	if err != nil {
		return "", err
	}

	delegateKey, err := c.Delegate.PublicKey()
	if err != nil {
		return "", errkind.New(errkind.SignatureVerification, "verify ghost key", err)
	}
	signable, err := SignableVerifyingKey(c.VerifyingKey)
	if err != nil {
		return "", errkind.New(errkind.SignatureVerification, "verify ghost key", err)
	}
	if err := blindsig.Verify(delegateKey, signable, c.Signature); err != nil {
		return "", errkind.New(errkind.SignatureVerification, "verify ghost key",
			fmt.Errorf("%w: %w", ErrInvalidSignature, err))
	}
	return info, nil
}

// PendingGhostKey is the client state between blinding a fresh
// verifying key and receiving the delegate's blind signature.
type PendingGhostKey struct {
	// BlindedVerifyingKey is sent to the signer.
	BlindedVerifyingKey []byte

	delegate     DelegateCertificate
	client       *blindsig.Client
	request      *blindsig.Request
	seed         *secret.Buffer
	verifyingKey ed25519.PublicKey
}

// BeginGhostKey generates an ephemeral Ed25519 key pair and blinds its
// verifying key under the delegate's RSA key. The delegate certificate
// is not verified here; callers that received it from an untrusted
// source should Verify it first.
func BeginGhostKey(delegate *DelegateCertificate) (*PendingGhostKey, error) {
	delegateKey, err := delegate.PublicKey()
	if err != nil {
		return nil, err
	}
	client, err := blindsig.NewClient(delegateKey)
	if err != nil {
		return nil, err
	}

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "generate ghost key", err)
	}
	seed, err := secret.NewFromBytes(private.Seed())
	secret.Zero(private)
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "generate ghost key", err)
	}

	signable, err := SignableVerifyingKey(public)
	if err != nil {
		seed.Close()
		return nil, err
	}
	request, err := client.Blind(signable)
	if err != nil {
		seed.Close()
		return nil, err
	}
	return &PendingGhostKey{
		BlindedVerifyingKey: request.BlindedMessage,
		delegate:            *delegate,
		client:              client,
		request:             request,
		seed:                seed,
		verifyingKey:        public,
	}, nil
}

// Finish unblinds and verifies blindSignature, then assembles the
// certificate. The returned signing key is the only copy of the ghost
// key's secret; the pending state is released either way.
func (p *PendingGhostKey) Finish(blindSignature []byte) (*GhostKeyCertificate, GhostSigningKey, error) {
	defer p.Close()

	signature, err := p.client.Finalize(p.request, blindSignature)
	if err != nil {
		return nil, GhostSigningKey{}, err
	}
	seed := append([]byte(nil), p.seed.Bytes()...)
	return Assemble(p.delegate, p.verifyingKey, signature), GhostSigningKey{Seed: seed}, nil
}

// Close releases the ephemeral seed without producing a certificate.
func (p *PendingGhostKey) Close() error { return p.seed.Close() }

// Issue runs the whole exchange against signer, which holds the
// delegate private key.
func Issue(delegate *DelegateCertificate, signer blindsig.BlindSigner) (*GhostKeyCertificate, GhostSigningKey, error) {
	pending, err := BeginGhostKey(delegate)
	if err != nil {
		return nil, GhostSigningKey{}, err
	}
	blindSignature, err := signer.Sign(pending.BlindedVerifyingKey)
	if err != nil {
		pending.Close()
		return nil, GhostSigningKey{}, err
	}
	return pending.Finish(blindSignature)
}
