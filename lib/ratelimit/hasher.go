// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/freenet/ghostkey/lib/secret"
)

// hashKeyInfo is the HKDF info string for the requester hash key.
// Changing it invalidates every persisted entry and exempt hash.
var hashKeyInfo = []byte("ghostkey.ratelimit.requester.v1")

// HashSize is the byte length of a requester hash.
const HashSize = 32

// Hasher maps requester keys to opaque, deployment-specific hashes.
type Hasher struct {
	key *secret.Buffer
}

// NewHasher derives a hashing key from salt. The salt is borrowed and
// not retained.
func NewHasher(salt []byte) (*Hasher, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("ratelimit: requester hash salt is empty")
	}
	reader := hkdf.New(sha256.New, salt, nil, hashKeyInfo)
	derived := make([]byte, HashSize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("ratelimit: deriving hash key: %w", err)
	}
	key, err := secret.NewFromBytes(derived)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: protecting hash key: %w", err)
	}
	return &Hasher{key: key}, nil
}

// Hash returns the lowercase hex hash of requester.
func (h *Hasher) Hash(requester string) string {
	sum := h.sum(requester)
	return hex.EncodeToString(sum[:])
}

func (h *Hasher) sum(requester string) [HashSize]byte {
	hasher, err := blake3.NewKeyed(h.key.Bytes())
	if err != nil {
		panic("ratelimit: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(requester))
	var result [HashSize]byte
	copy(result[:], hasher.Sum(nil))
	return result
}

// Close releases the hashing key.
func (h *Hasher) Close() error { return h.key.Close() }

// exemptSet holds decoded exempt hashes.
type exemptSet [][HashSize]byte

func parseExempt(entries []string) (exemptSet, error) {
	set := make(exemptSet, 0, len(entries))
	for index, entry := range entries {
		decoded, err := hex.DecodeString(entry)
		if err != nil || len(decoded) != HashSize {
			return nil, fmt.Errorf("ratelimit: exempt entry %d is not a %d-byte hex hash", index, HashSize)
		}
		var hash [HashSize]byte
		copy(hash[:], decoded)
		set = append(set, hash)
	}
	return set, nil
}

// contains compares against every entry so the time taken does not
// depend on which entry, if any, matched.
func (s exemptSet) contains(hash [HashSize]byte) bool {
	found := 0
	for index := range s {
		found |= subtle.ConstantTimeCompare(s[index][:], hash[:])
	}
	return found == 1
}
