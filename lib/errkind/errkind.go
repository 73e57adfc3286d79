// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package errkind classifies ghostkey failures so callers can handle
// them programmatically without parsing error strings.
//
// A [Kind] says what went wrong (a cryptographically invalid
// signature, a policy denial, an I/O failure). It does not say how a
// process should exit; mapping kinds to exit codes or HTTP statuses is
// the job of the boundary that owns that decision.
//
// Errors carry an operation name and wrap their cause:
//
//	return errkind.New(errkind.SignatureVerification, "verify delegate", err)
//
// and are classified with [Of]:
//
//	if errkind.Of(err) == errkind.RateLimited { ... }
//
// Error text never includes key bytes or blinding state. Packages that
// construct errors from crypto library failures pass only the
// library's error, which does not carry secret inputs.
package errkind

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a failure classification.
type Kind int

const (
	// Unknown is the kind of errors that carry no classification.
	Unknown Kind = iota

	// KeyCreation: malformed or undecodable key material.
	KeyCreation

	// Signature: malformed signature bytes.
	Signature

	// SignatureVerification: well-formed signature that is
	// cryptographically invalid.
	SignatureVerification

	// Serialization: canonical encoding failed.
	Serialization

	// Deserialization: canonical decoding failed.
	Deserialization

	// Base64Decode: transport-layer base64 was invalid.
	Base64Decode

	// Armor: no armor block with the expected label, or malformed
	// armor framing.
	Armor

	// RateLimited: the requester exceeded the issuance window.
	RateLimited

	// AlreadySigned: the payment authorization was already redeemed.
	AlreadySigned

	// PaymentNotSuccessful: the external authorization has not
	// succeeded.
	PaymentNotSuccessful

	// PaymentMethodMissing: the external authorization has no payment
	// method attached.
	PaymentMethodMissing

	// Payment: the payment backend failed or timed out.
	Payment

	// Key: no delegate key exists for the requested tier.
	Key

	// InvalidInput: a caller-supplied argument was unusable.
	InvalidInput

	// IO: persistence failure.
	IO
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	KeyCreation:           "key creation error",
	Signature:             "signature error",
	SignatureVerification: "signature verification error",
	Serialization:         "serialization error",
	Deserialization:       "deserialization error",
	Base64Decode:          "base64 decode error",
	Armor:                 "armor error",
	RateLimited:           "rate limited",
	AlreadySigned:         "certificate already signed",
	PaymentNotSuccessful:  "payment not successful",
	PaymentMethodMissing:  "payment method missing",
	Payment:               "payment backend error",
	Key:                   "key error",
	InvalidInput:          "invalid input",
	IO:                    "I/O error",
}

// String returns a short human-readable name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error. Op names the operation that failed
// ("decode armor", "verify ghost key"). Err is the underlying cause
// and may be nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// RetryAfter is set on RateLimited errors: how long until the
	// requester's oldest issuance leaves the window.
	RetryAfter time.Duration
}

// New returns an *Error with the given kind, operation and cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns an *Error whose cause is formatted from format and
// args. %w verbs wrap as with fmt.Errorf.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Limited returns a RateLimited error carrying retryAfter.
func Limited(op string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       RateLimited,
		Op:         op,
		Err:        fmt.Errorf("retry after %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets
// callers compare against a bare kind value:
//
//	errors.Is(err, &errkind.Error{Kind: errkind.AlreadySigned})
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Op == "" && other.Err == nil && other.Kind == e.Kind
}

// Of returns the kind of the outermost *Error in err's chain, or
// Unknown if there is none.
func Of(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Unknown
}

// RetryAfterOf returns the retry-after duration carried by a
// RateLimited error in err's chain.
func RetryAfterOf(err error) (time.Duration, bool) {
	var classified *Error
	if errors.As(err, &classified) && classified.Kind == RateLimited {
		return classified.RetryAfter, true
	}
	return 0, false
}

// IsPolicyDenial reports whether err is a policy outcome (rate limit,
// redemption already used, unsatisfied payment) rather than a fault.
func IsPolicyDenial(err error) bool {
	switch Of(err) {
	case RateLimited, AlreadySigned, PaymentNotSuccessful, PaymentMethodMissing:
		return true
	}
	return false
}
