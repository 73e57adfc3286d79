// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package payment is the boundary between issuance and whatever
// processes payments. Issuance needs only two things from a payment
// provider: the state of an authorization and a way to mark it
// consumed. Concrete provider integrations implement [Authorizer]
// outside this module; [Memory] is an in-process backend for tests and
// offline operation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/freenet/ghostkey/lib/errkind"
)

// Status is the provider-reported state of an authorization.
type Status string

const (
	Succeeded             Status = "succeeded"
	RequiresPaymentMethod Status = "requires_payment_method"
	RequiresConfirmation  Status = "requires_confirmation"
	RequiresAction        Status = "requires_action"
	Processing            Status = "processing"
	Canceled              Status = "canceled"
)

// CentsPerTier converts an authorization amount to a tier. A tier is a
// whole number of currency units.
const CentsPerTier = 100

// ErrNotFound is returned by backends when an authorization id is
// unknown to the provider.
var ErrNotFound = errors.New("payment: authorization not found")

// Authorization is the provider's view of one payment.
type Authorization struct {
	ID          string
	Status      Status
	AmountCents int64

	// Consumed is true once [Authorizer.MarkConsumed] has been called
	// for this id.
	Consumed bool
}

// Tier returns the certificate tier this authorization pays for.
func (a Authorization) Tier() int64 { return a.AmountCents / CentsPerTier }

// Check classifies the authorization's status. Only Succeeded passes.
func (a Authorization) Check() error {
	switch a.Status {
	case Succeeded:
		return nil
	case RequiresPaymentMethod:
		return errkind.Errorf(errkind.PaymentMethodMissing, "check payment", "authorization %s has no payment method", a.ID)
	default:
		return errkind.Errorf(errkind.PaymentNotSuccessful, "check payment", "authorization %s status %q", a.ID, a.Status)
	}
}

// Authorizer looks up and consumes payment authorizations.
type Authorizer interface {
	Authorize(ctx context.Context, authorizationID string) (Authorization, error)
	MarkConsumed(ctx context.Context, authorizationID string) error
}

// Memory is an Authorizer backed by a map.
type Memory struct {
	mu             sync.Mutex
	authorizations map[string]Authorization
}

// NewMemory returns a Memory seeded with authorizations.
func NewMemory(authorizations ...Authorization) *Memory {
	m := &Memory{authorizations: make(map[string]Authorization, len(authorizations))}
	for _, a := range authorizations {
		m.authorizations[a.ID] = a
	}
	return m
}

// Put adds or replaces an authorization.
func (m *Memory) Put(a Authorization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizations[a.ID] = a
}

func (m *Memory) Authorize(ctx context.Context, authorizationID string) (Authorization, error) {
	if err := ctx.Err(); err != nil {
		return Authorization{}, errkind.New(errkind.Payment, "authorize payment", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authorizations[authorizationID]
	if !ok {
		return Authorization{}, errkind.New(errkind.PaymentNotSuccessful, "authorize payment",
			fmt.Errorf("%w: %s", ErrNotFound, authorizationID))
	}
	return a, nil
}

func (m *Memory) MarkConsumed(ctx context.Context, authorizationID string) error {
	if err := ctx.Err(); err != nil {
		return errkind.New(errkind.Payment, "mark payment consumed", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authorizations[authorizationID]
	if !ok {
		return errkind.New(errkind.Payment, "mark payment consumed",
			fmt.Errorf("%w: %s", ErrNotFound, authorizationID))
	}
	a.Consumed = true
	m.authorizations[authorizationID] = a
	return nil
}
