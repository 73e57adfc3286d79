// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package redemption records which payment authorizations have already
// been exchanged for a certificate.
//
// A [Ledger] claim is the commit point of issuance. The issuance
// service claims the authorization before any signing happens, and a
// claim is never rolled back: a request that fails or is cancelled
// after claiming leaves the authorization consumed. A client retrying
// after a crash may be told "already signed" for a payment that never
// produced a certificate; it can never obtain two.
//
// [Memory] serves tests and single-shot tools. [SQLite] is durable and
// atomic across every process sharing the database file.
package redemption

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/freenet/ghostkey/lib/clock"
	"github.com/freenet/ghostkey/lib/errkind"
)

// ErrAlreadyClaimed is wrapped in an AlreadySigned error when an
// authorization is claimed twice.
var ErrAlreadyClaimed = errors.New("redemption: authorization already claimed")

// Ledger is a set of claimed authorization ids with atomic insert.
type Ledger interface {
	// Claim marks authorizationID consumed. Exactly one Claim per id
	// succeeds; every later one returns an AlreadySigned error
	// wrapping ErrAlreadyClaimed.
	Claim(ctx context.Context, authorizationID string) error

	// Claimed reports whether authorizationID has been claimed.
	Claimed(ctx context.Context, authorizationID string) (bool, error)
}

// Memory is an in-process Ledger.
type Memory struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	clock   clock.Clock
}

// NewMemory returns an empty in-process ledger. A nil clock means the
// real clock.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{claimed: make(map[string]time.Time), clock: clock.OrReal(c)}
}

func (m *Memory) Claim(ctx context.Context, authorizationID string) error {
	if err := checkID(authorizationID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.claimed[authorizationID]; exists {
		return alreadyClaimed()
	}
	m.claimed[authorizationID] = m.clock.Now()
	return nil
}

func (m *Memory) Claimed(ctx context.Context, authorizationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.claimed[authorizationID]
	return exists, nil
}

func checkID(authorizationID string) error {
	if authorizationID == "" {
		return errkind.Errorf(errkind.InvalidInput, "claim authorization", "empty authorization id")
	}
	return nil
}

func alreadyClaimed() error {
	return errkind.New(errkind.AlreadySigned, "claim authorization", ErrAlreadyClaimed)
}
