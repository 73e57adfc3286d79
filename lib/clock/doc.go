// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The issuance policy decides everything from wall-clock time: which
// rate-limit entries have aged out of the window, when a denied
// requester may retry, how many burst tokens have refilled. Code that
// makes those decisions takes a Clock instead of calling time.Now, so
// tests can step through a 24-hour window instantly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	limiter := ratelimit.New(ratelimit.Config{Clock: c, ...})
//	c.Advance(24 * time.Hour)
package clock
