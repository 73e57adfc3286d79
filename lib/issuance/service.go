// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package issuance is the payment-gated, rate-limited certificate
// signing service. It exposes the two operations an HTTP layer needs:
// [Service.SignCertificate] turns a paid authorization and a blinded
// ghost verifying key into a blind signature, and [Service.Delegate]
// returns a tier's delegate.
//
// A request passes through, in order: blinded-key decoding, the
// in-memory burst throttle, the persisted rate-limit window, payment
// authorization (bounded by a timeout), status and tier checks, the
// delegate lookup, the redemption ledger claim, the backend
// mark-consumed call and finally the blind signature. The ledger claim
// is the commit point; nothing after it gives the authorization back.
package issuance

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/freenet/ghostkey/lib/armor"
	"github.com/freenet/ghostkey/lib/clock"
	"github.com/freenet/ghostkey/lib/delegatestore"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/ghostkey"
	"github.com/freenet/ghostkey/lib/payment"
	"github.com/freenet/ghostkey/lib/ratelimit"
	"github.com/freenet/ghostkey/lib/redemption"
)

// DefaultPaymentTimeout bounds each payment backend call.
const DefaultPaymentTimeout = 10 * time.Second

// Delegates looks up a tier's delegate. Certificate must not load the
// private signing key. *delegatestore.Store implements it.
type Delegates interface {
	Get(tier int64) (*delegatestore.Delegate, error)
	Certificate(tier int64) (*ghostkey.DelegateCertificate, error)
}

// Config wires a Service. Delegates, Limiter, Ledger and Payments are
// required.
type Config struct {
	Delegates Delegates
	Limiter   *ratelimit.Limiter
	Ledger    redemption.Ledger
	Payments  payment.Authorizer

	// PaymentTimeout bounds each payment backend call. Zero means
	// DefaultPaymentTimeout.
	PaymentTimeout time.Duration

	Burst BurstConfig

	// Metrics may be nil.
	Metrics *Metrics

	Clock  clock.Clock
	Logger *slog.Logger
}

// Request is one sign_certificate call.
type Request struct {
	// AuthorizationID identifies the payment.
	AuthorizationID string

	// BlindedKey is the standard base64 blinded verifying key.
	BlindedKey string

	// Tier is the requested tier. It must equal the authorization's
	// amount divided by payment.CentsPerTier.
	Tier int64

	// Requester is the rate-limit key (typically the client address).
	Requester string
}

// Response carries the blind signature and the delegate certificate
// the client needs to finalize it, both standard base64.
type Response struct {
	BlindSignature      string
	DelegateCertificate string
}

// Service signs blinded ghost keys. It is safe for concurrent use.
type Service struct {
	delegates      Delegates
	limiter        *ratelimit.Limiter
	ledger         redemption.Ledger
	payments       payment.Authorizer
	paymentTimeout time.Duration
	throttle       *throttle
	metrics        *Metrics
	clock          clock.Clock
	logger         *slog.Logger
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Delegates == nil:
		return nil, fmt.Errorf("issuance: Delegates is required")
	case cfg.Limiter == nil:
		return nil, fmt.Errorf("issuance: Limiter is required")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("issuance: Ledger is required")
	case cfg.Payments == nil:
		return nil, fmt.Errorf("issuance: Payments is required")
	}
	timeout := cfg.PaymentTimeout
	if timeout <= 0 {
		timeout = DefaultPaymentTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		delegates:      cfg.Delegates,
		limiter:        cfg.Limiter,
		ledger:         cfg.Ledger,
		payments:       cfg.Payments,
		paymentTimeout: timeout,
		throttle:       newThrottle(cfg.Burst),
		metrics:        cfg.Metrics,
		clock:          clock.OrReal(cfg.Clock),
		logger:         logger,
	}, nil
}

// SignCertificate runs the issuance policy for request and, when every
// check passes, blind-signs the blinded key with the tier's delegate.
//
// Policy denials are classified errors: RateLimited (with RetryAfter),
// AlreadySigned, PaymentNotSuccessful and PaymentMethodMissing. Given
// one authorization id, at most one call ever reaches the signer.
func (s *Service) SignCertificate(ctx context.Context, request Request) (*Response, error) {
	response, err := s.signCertificate(ctx, request)
	s.metrics.observe(err)
	if err != nil {
		if errkind.IsPolicyDenial(err) {
			s.logger.Info("certificate request denied",
				"authorization", request.AuthorizationID,
				"tier", request.Tier,
				"reason", errkind.Of(err).String(),
			)
		} else {
			s.logger.Warn("certificate request failed",
				"authorization", request.AuthorizationID,
				"tier", request.Tier,
				"error", err,
			)
		}
		return nil, err
	}
	s.logger.Info("certificate signed",
		"authorization", request.AuthorizationID,
		"tier", request.Tier,
	)
	return response, nil
}

func (s *Service) signCertificate(ctx context.Context, request Request) (*Response, error) {
	const op = "sign certificate"

	if request.AuthorizationID == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, op, "authorization id is required")
	}
	if request.Requester == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, op, "requester key is required")
	}
	if request.Tier <= 0 {
		return nil, errkind.Errorf(errkind.InvalidInput, op, "tier must be positive, got %d", request.Tier)
	}
	blinded, err := base64.StdEncoding.DecodeString(request.BlindedKey)
	if err != nil {
		return nil, errkind.New(errkind.Base64Decode, op, err)
	}

	// A redeemed id is answered before the limiters so retries of a
	// finished request never consume the requester's allowance.
	claimed, err := s.ledger.Claimed(ctx, request.AuthorizationID)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, errkind.New(errkind.AlreadySigned, op, redemption.ErrAlreadyClaimed)
	}

	if ok, delay := s.throttle.allow(request.Requester, s.clock.Now()); !ok {
		return nil, errkind.Limited(op, delay)
	}
	decision, err := s.limiter.Reserve(request.Requester)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, errkind.Limited(op, decision.RetryAfter)
	}

	authorization, err := s.authorize(ctx, request.AuthorizationID)
	if err != nil {
		return nil, err
	}
	if err := authorization.Check(); err != nil {
		return nil, err
	}
	if authorization.Tier() != request.Tier {
		return nil, errkind.Errorf(errkind.InvalidInput, op,
			"authorization %s pays for tier %d, not %d", authorization.ID, authorization.Tier(), request.Tier)
	}
	if authorization.Consumed {
		return nil, errkind.New(errkind.AlreadySigned, op, redemption.ErrAlreadyClaimed)
	}

	delegate, err := s.delegates.Get(request.Tier)
	if err != nil {
		return nil, err
	}
	public, err := delegate.Certificate.PublicKey()
	if err != nil {
		return nil, err
	}
	if len(blinded) != public.Size() {
		return nil, errkind.Errorf(errkind.InvalidInput, op,
			"blinded key is %d bytes, want %d", len(blinded), public.Size())
	}
	certificate, err := armor.Base64(*delegate.Certificate)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Claim(ctx, request.AuthorizationID); err != nil {
		return nil, err
	}
	if err := s.markConsumed(ctx, request.AuthorizationID); err != nil {
		return nil, err
	}

	started := s.clock.Now()
	signature, err := delegate.Sign(blinded)
	s.metrics.observeSign(s.clock.Now().Sub(started))
	if err != nil {
		return nil, err
	}

	return &Response{
		BlindSignature:      base64.StdEncoding.EncodeToString(signature),
		DelegateCertificate: certificate,
	}, nil
}

func (s *Service) authorize(ctx context.Context, id string) (payment.Authorization, error) {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()
	authorization, err := s.payments.Authorize(ctx, id)
	if err != nil {
		if errkind.Of(err) == errkind.Unknown {
			return payment.Authorization{}, errkind.New(errkind.Payment, "authorize payment", err)
		}
		return payment.Authorization{}, err
	}
	return authorization, nil
}

func (s *Service) markConsumed(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()
	if err := s.payments.MarkConsumed(ctx, id); err != nil {
		if errkind.Of(err) == errkind.Unknown {
			return errkind.New(errkind.Payment, "mark payment consumed", err)
		}
		return err
	}
	return nil
}

// DelegateCertificate returns the public certificate of tier's
// delegate without touching its signing key.
func (s *Service) DelegateCertificate(tier int64) (*ghostkey.DelegateCertificate, error) {
	return s.delegates.Certificate(tier)
}

// RetryAfter reports how long requester must wait before the persisted
// window admits another request.
func (s *Service) RetryAfter(requester string) (time.Duration, bool, error) {
	return s.limiter.RetryAfter(requester)
}
