// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// Fataler is the subset of testing.TB the helpers need.
type Fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch. It fails the test if
// ch is closed empty or nothing arrives within timeout. what names the
// awaited event in the failure message.
//
//	err := testutil.RequireReceive(t, served, 5*time.Second, "server shutdown")
func RequireReceive[T any](t Fataler, ch <-chan T, timeout time.Duration, what string, args ...any) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed with no value", describe(what, args))
		}
		return v
	case <-timer.C:
		t.Fatalf("%s: nothing received after %v", describe(what, args), timeout)
	}
	panic("unreachable")
}

func describe(what string, args []any) string {
	if what == "" {
		return "waiting"
	}
	if len(args) == 0 {
		return what
	}
	return fmt.Sprintf(what, args...)
}
