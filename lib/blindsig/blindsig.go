// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package blindsig

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/blindsign/blindrsa"

	"github.com/freenet/ghostkey/lib/errkind"
)

// MinModulusBits is the smallest RSA modulus accepted for blind
// signing.
const MinModulusBits = 2048

const variant = blindrsa.SHA384PSSZeroDeterministic

// ErrFinalizedRequest is returned when a Request is finalized twice.
var ErrFinalizedRequest = errors.New("blindsig: request already finalized")

// Client holds the signer's public key and performs the client-side
// blind and finalize steps.
type Client struct {
	inner  blindrsa.Client
	random io.Reader
}

// NewClient returns a client for the delegate public key pub.
func NewClient(pub *rsa.PublicKey) (*Client, error) {
	if err := checkKeySize(pub); err != nil {
		return nil, err
	}
	inner, err := blindrsa.NewClient(variant, pub)
	if err != nil {
		return nil, errkind.New(errkind.KeyCreation, "blind client", err)
	}
	return &Client{inner: inner, random: rand.Reader}, nil
}

// Request is one in-flight blind-signature exchange. BlindedMessage
// is sent to the signer; everything else stays with the client.
type Request struct {
	BlindedMessage []byte

	message   []byte
	state     blindrsa.State
	finalized bool
}

// Blind prepares message for signing and blinds it with a fresh random
// factor.
func (c *Client) Blind(message []byte) (*Request, error) {
	prepared, err := c.inner.Prepare(c.random, message)
	if err != nil {
		return nil, errkind.New(errkind.Signature, "blind", err)
	}
	blinded, state, err := c.inner.Blind(c.random, prepared)
	if err != nil {
		return nil, errkind.New(errkind.Signature, "blind", err)
	}
	return &Request{
		BlindedMessage: blinded,
		message:        prepared,
		state:          state,
	}, nil
}

// Finalize unblinds blindSignature and verifies the result against
// the message passed to Blind. A signature that does not verify is
// rejected with a SignatureVerification error.
func (c *Client) Finalize(request *Request, blindSignature []byte) ([]byte, error) {
	if request.finalized {
		return nil, errkind.New(errkind.InvalidInput, "finalize", ErrFinalizedRequest)
	}
	signature, err := c.inner.Finalize(request.state, blindSignature)
	if err != nil {
		return nil, errkind.New(errkind.SignatureVerification, "finalize", err)
	}
	if err := c.inner.Verify(request.message, signature); err != nil {
		return nil, errkind.New(errkind.SignatureVerification, "finalize", err)
	}
	request.finalized = true
	return signature, nil
}

// BlindSigner is the server side of the exchange. It is satisfied by
// *Signer locally and by remote issuance clients.
type BlindSigner interface {
	Sign(blinded []byte) ([]byte, error)
}

// Signer applies the delegate private key to blinded messages. It
// never sees, and cannot inspect, the underlying message.
type Signer struct {
	inner blindrsa.Signer
	size  int
}

// NewSigner returns a signer for the delegate private key.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, errkind.Errorf(errkind.KeyCreation, "blind signer", "nil private key")
	}
	if err := checkKeySize(&key.PublicKey); err != nil {
		return nil, err
	}
	return &Signer{inner: blindrsa.NewSigner(key), size: key.Size()}, nil
}

// Sign blind-signs a blinded message. The input must be exactly the
// modulus length.
func (s *Signer) Sign(blinded []byte) ([]byte, error) {
	if len(blinded) != s.size {
		return nil, errkind.Errorf(errkind.InvalidInput, "blind sign",
			"blinded message is %d bytes, want %d", len(blinded), s.size)
	}
	signature, err := s.inner.BlindSign(blinded)
	if err != nil {
		return nil, errkind.New(errkind.Signature, "blind sign", err)
	}
	return signature, nil
}

// Verify checks a finalized signature over message under pub.
func Verify(pub *rsa.PublicKey, message, signature []byte) error {
	if err := checkKeySize(pub); err != nil {
		return err
	}
	verifier, err := blindrsa.NewVerifier(variant, pub)
	if err != nil {
		return errkind.New(errkind.KeyCreation, "verify blind signature", err)
	}
	if len(signature) != pub.Size() {
		return errkind.Errorf(errkind.SignatureVerification, "verify blind signature",
			"signature is %d bytes, want %d", len(signature), pub.Size())
	}
	if err := verifier.Verify(message, signature); err != nil {
		return errkind.New(errkind.SignatureVerification, "verify blind signature", err)
	}
	return nil
}

func checkKeySize(pub *rsa.PublicKey) error {
	if pub == nil || pub.N == nil {
		return errkind.Errorf(errkind.KeyCreation, "check RSA key", "nil public key")
	}
	if bits := pub.N.BitLen(); bits < MinModulusBits {
		return errkind.New(errkind.KeyCreation, "check RSA key",
			fmt.Errorf("modulus is %d bits, need at least %d", bits, MinModulusBits))
	}
	return nil
}
