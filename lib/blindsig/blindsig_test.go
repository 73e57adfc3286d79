// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package blindsig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"encoding/binary"
	"math/big"
	"sync"
	"testing"

	"github.com/freenet/ghostkey/lib/errkind"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	otherKey    *rsa.PrivateKey
)

// testKeys generates the RSA-2048 keys shared by every test in the
// package. Key generation dominates test time otherwise.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		otherKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey, otherKey
}

func exchange(t *testing.T, key *rsa.PrivateKey, message []byte) []byte {
	t.Helper()
	client, err := NewClient(&key.PublicKey)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	signer, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	request, err := client.Blind(message)
	if err != nil {
		t.Fatalf("Blind: %v", err)
	}
	blindSignature, err := signer.Sign(request.BlindedMessage)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signature, err := client.Finalize(request, blindSignature)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return signature
}

func TestExchangeVerifies(t *testing.T) {
	key, _ := testKeys(t)
	message := []byte("ghost verifying key bytes")

	signature := exchange(t, key, message)
	if err := Verify(&key.PublicKey, message, signature); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestFinalizedSignatureIsStandardPSS(t *testing.T) {
	key, _ := testKeys(t)
	message := []byte("interop")

	signature := exchange(t, key, message)
	digest := sha512.Sum384(message)
	err := rsa.VerifyPSS(&key.PublicKey, crypto.SHA384, digest[:], signature,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA384})
	if err != nil {
		t.Fatalf("crypto/rsa rejected finalized signature: %v", err)
	}
}

// pssZeroSign computes an RSASSA-PSS signature over message with
// SHA-384, MGF1-SHA-384 and an empty salt, straight from the encoding
// steps and the raw private exponent.
func pssZeroSign(t *testing.T, key *rsa.PrivateKey, message []byte) []byte {
	t.Helper()
	const hashLen = sha512.Size384
	emBits := key.N.BitLen() - 1
	emLen := (emBits + 7) / 8

	mHash := sha512.Sum384(message)
	prime := append(make([]byte, 8), mHash[:]...)
	h := sha512.Sum384(prime)

	db := make([]byte, emLen-hashLen-1)
	db[len(db)-1] = 0x01
	mask := mgf1SHA384(h[:], len(db))
	for i := range db {
		db[i] ^= mask[i]
	}
	db[0] &= 0xFF >> (8*emLen - emBits)

	em := append(append(db, h[:]...), 0xbc)
	if len(em) != emLen {
		t.Fatalf("encoded message is %d bytes, want %d", len(em), emLen)
	}
	s := new(big.Int).Exp(new(big.Int).SetBytes(em), key.D, key.N)
	return s.FillBytes(make([]byte, key.Size()))
}

func mgf1SHA384(seed []byte, length int) []byte {
	var out []byte
	for counter := uint32(0); len(out) < length; counter++ {
		block := sha512.New384()
		block.Write(seed)
		block.Write(binary.BigEndian.AppendUint32(nil, counter))
		out = block.Sum(out)
	}
	return out[:length]
}

func TestFinalizedSignatureMatchesManualPSSZero(t *testing.T) {
	key, _ := testKeys(t)
	for _, message := range [][]byte{
		[]byte("ghost verifying key bytes"),
		{},
		bytes.Repeat([]byte{0xA5}, 300),
	} {
		got := exchange(t, key, message)
		want := pssZeroSign(t, key, message)
		if !bytes.Equal(got, want) {
			t.Errorf("message %x: finalized signature differs from manual PSS encoding", message)
		}
	}
}

func TestBlindingIsRandomizedButSignatureDeterministic(t *testing.T) {
	key, _ := testKeys(t)
	client, err := NewClient(&key.PublicKey)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	message := []byte("same message")

	first, err := client.Blind(message)
	if err != nil {
		t.Fatalf("Blind: %v", err)
	}
	second, err := client.Blind(message)
	if err != nil {
		t.Fatalf("Blind: %v", err)
	}
	if bytes.Equal(first.BlindedMessage, second.BlindedMessage) {
		t.Error("two blindings of the same message are identical")
	}
	if bytes.Contains(first.BlindedMessage, message) {
		t.Error("blinded message contains the plaintext")
	}

	if !bytes.Equal(exchange(t, key, message), exchange(t, key, message)) {
		t.Error("finalized signatures differ for the same message")
	}
}

func TestVerifyRejectsWrongMessageAndKey(t *testing.T) {
	key, other := testKeys(t)
	signature := exchange(t, key, []byte("original"))

	if err := Verify(&key.PublicKey, []byte("different"), signature); errkind.Of(err) != errkind.SignatureVerification {
		t.Errorf("wrong message: kind %v, want SignatureVerification", errkind.Of(err))
	}
	if err := Verify(&other.PublicKey, []byte("original"), signature); errkind.Of(err) != errkind.SignatureVerification {
		t.Errorf("wrong key: kind %v, want SignatureVerification", errkind.Of(err))
	}
	tampered := bytes.Clone(signature)
	tampered[len(tampered)-1] ^= 0xFF
	if err := Verify(&key.PublicKey, []byte("original"), tampered); errkind.Of(err) != errkind.SignatureVerification {
		t.Errorf("tampered signature: kind %v, want SignatureVerification", errkind.Of(err))
	}
	if err := Verify(&key.PublicKey, []byte("original"), signature[:10]); errkind.Of(err) != errkind.SignatureVerification {
		t.Errorf("short signature: kind %v, want SignatureVerification", errkind.Of(err))
	}
}

func TestFinalizeRejectsBadBlindSignature(t *testing.T) {
	key, other := testKeys(t)
	client, err := NewClient(&key.PublicKey)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	request, err := client.Blind([]byte("message"))
	if err != nil {
		t.Fatalf("Blind: %v", err)
	}

	// Signed by the wrong delegate. The blinded value may exceed the
	// other modulus, in which case the signer itself refuses.
	wrongSigner, err := NewSigner(other)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if wrong, err := wrongSigner.Sign(request.BlindedMessage); err == nil {
		if _, err := client.Finalize(request, wrong); errkind.Of(err) != errkind.SignatureVerification {
			t.Errorf("wrong signer: kind %v, want SignatureVerification", errkind.Of(err))
		}
	}

	garbage := bytes.Repeat([]byte{0x42}, key.Size())
	if _, err := client.Finalize(request, garbage); errkind.Of(err) != errkind.SignatureVerification {
		t.Errorf("garbage: kind %v, want SignatureVerification", errkind.Of(err))
	}
}

func TestFinalizeTwice(t *testing.T) {
	key, _ := testKeys(t)
	client, err := NewClient(&key.PublicKey)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	signer, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	request, err := client.Blind([]byte("once"))
	if err != nil {
		t.Fatalf("Blind: %v", err)
	}
	blindSignature, err := signer.Sign(request.BlindedMessage)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := client.Finalize(request, blindSignature); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	if _, err := client.Finalize(request, blindSignature); errkind.Of(err) != errkind.InvalidInput {
		t.Errorf("second Finalize: kind %v, want InvalidInput", errkind.Of(err))
	}
}

func TestSignRejectsWrongLength(t *testing.T) {
	key, _ := testKeys(t)
	signer, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if _, err := signer.Sign([]byte("short")); errkind.Of(err) != errkind.InvalidInput {
		t.Errorf("kind %v, want InvalidInput", errkind.Of(err))
	}
}

func TestRejectsSmallKeys(t *testing.T) {
	small, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := NewClient(&small.PublicKey); errkind.Of(err) != errkind.KeyCreation {
		t.Errorf("NewClient kind %v, want KeyCreation", errkind.Of(err))
	}
	if _, err := NewSigner(small); errkind.Of(err) != errkind.KeyCreation {
		t.Errorf("NewSigner kind %v, want KeyCreation", errkind.Of(err))
	}
	if _, err := NewSigner(nil); errkind.Of(err) != errkind.KeyCreation {
		t.Errorf("NewSigner(nil) kind %v, want KeyCreation", errkind.Of(err))
	}
}
