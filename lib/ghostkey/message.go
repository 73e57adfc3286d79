// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package ghostkey

import (
	"bytes"
	"crypto/ed25519"
	"errors"

	"github.com/freenet/ghostkey/lib/errkind"
)

// ErrKeyMismatch is returned when a ghost signing key does not belong
// to the certificate it is used with.
var ErrKeyMismatch = errors.New("ghostkey: signing key does not match certificate")

// SignedMessage is a message signed by a ghost key, carrying the
// certificate that vouches for the key.
type SignedMessage struct {
	Certificate GhostKeyCertificate `cbor:"1,keyasint"`
	Message     []byte              `cbor:"2,keyasint"`
	Signature   []byte              `cbor:"3,keyasint"`
}

// SignMessage signs message with key. key must be the signing half of
// certificate.VerifyingKey.
func SignMessage(certificate *GhostKeyCertificate, key GhostSigningKey, message []byte) (*SignedMessage, error) {
	seed, public, err := openSeed("ghost signing key", append([]byte(nil), key.Seed...))
	if err != nil {
		return nil, err
	}
	defer seed.Close()

	if !bytes.Equal(public, certificate.VerifyingKey) {
		return nil, errkind.New(errkind.InvalidInput, "sign message", ErrKeyMismatch)
	}
	return &SignedMessage{
		Certificate: *certificate,
		Message:     append([]byte(nil), message...),
		Signature:   signWithSeed(seed, message),
	}, nil
}

// Verify checks the certificate chain against master and then the
// ghost key's signature over Message. It returns the delegate info.
func (m *SignedMessage) Verify(master ed25519.PublicKey) (string, error) {
	info, err := m.Certificate.Verify(master)
	if err != nil {
		return "", err
	}
	if len(m.Signature) != ed25519.SignatureSize {
		return "", errkind.Errorf(errkind.Signature, "verify signed message",
			"signature is %d bytes, want %d", len(m.Signature), ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(m.Certificate.VerifyingKey), m.Message, m.Signature) {
		return "", errkind.New(errkind.SignatureVerification, "verify signed message", ErrInvalidSignature)
	}
	return info, nil
}
