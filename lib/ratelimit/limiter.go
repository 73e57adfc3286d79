// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/freenet/ghostkey/lib/clock"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/statefile"
)

const (
	// DefaultWindow is the rolling window length.
	DefaultWindow = 24 * time.Hour

	// DefaultMaxPerWindow is the number of issuances allowed per
	// requester per window.
	DefaultMaxPerWindow = 20
)

// State is the persisted document.
type State struct {
	Invites map[string][]string `json:"invites"`
}

// Config configures a Limiter. Path and Hasher are required.
type Config struct {
	// Path is the JSON state file. Parent directories are created on
	// first write.
	Path string

	// Window is the rolling window. Zero means DefaultWindow.
	Window time.Duration

	// MaxPerWindow is the cap per requester. Zero means
	// DefaultMaxPerWindow.
	MaxPerWindow int

	// Hasher maps requester keys to the hashes stored on disk.
	Hasher *Hasher

	// Exempt lists hex requester hashes (Hasher.Hash output) that
	// bypass the limiter.
	Exempt []string

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Decision is the outcome of Reserve.
type Decision struct {
	Allowed bool

	// Exempt is set when the requester bypassed the limiter.
	Exempt bool

	// Remaining is the number of issuances left in the window after
	// this decision.
	Remaining int

	// RetryAfter is how long until the oldest issuance leaves the
	// window. Set only when Allowed is false.
	RetryAfter time.Duration
}

// Limiter is a persisted rolling-window rate limiter. It is safe for
// concurrent use within one process.
type Limiter struct {
	path   string
	window time.Duration
	max    int
	hasher *Hasher
	exempt exemptSet
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex
}

// New validates cfg and returns a Limiter. No file I/O happens until
// the first decision.
func New(cfg Config) (*Limiter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ratelimit: Path is required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("ratelimit: Hasher is required")
	}
	if cfg.Window < 0 || cfg.MaxPerWindow < 0 {
		return nil, fmt.Errorf("ratelimit: Window and MaxPerWindow must not be negative")
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}
	maxPerWindow := cfg.MaxPerWindow
	if maxPerWindow == 0 {
		maxPerWindow = DefaultMaxPerWindow
	}
	exempt, err := parseExempt(cfg.Exempt)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Limiter{
		path:   cfg.Path,
		window: window,
		max:    maxPerWindow,
		hasher: cfg.Hasher,
		exempt: exempt,
		clock:  clock.OrReal(cfg.Clock),
		logger: logger,
	}, nil
}

// Reserve checks requester against the window and, when allowed,
// records an issuance. On error the decision is a denial.
func (l *Limiter) Reserve(requester string) (Decision, error) {
	hash := l.hasher.sum(requester)
	if l.exempt.contains(hash) {
		return Decision{Allowed: true, Exempt: true, Remaining: l.max}, nil
	}
	key := fmt.Sprintf("%x", hash)

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.load()
	if err != nil {
		return Decision{}, err
	}
	now := l.clock.Now()
	l.prune(&state, now)

	timestamps := state.Invites[key]
	if len(timestamps) >= l.max {
		retryAfter := l.retryAfter(timestamps, now)
		l.logger.Info("issuance rate limited",
			"requester", key[:12],
			"count", len(timestamps),
			"retry_after", retryAfter,
		)
		// Pruning is persisted even on denial.
		if err := l.save(state); err != nil {
			return Decision{}, err
		}
		return Decision{RetryAfter: retryAfter}, nil
	}

	state.Invites[key] = append(timestamps, now.UTC().Format(time.RFC3339Nano))
	if err := l.save(state); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true, Remaining: l.max - len(timestamps) - 1}, nil
}

// CheckAndRecord reports whether requester may be issued a
// certificate now, recording the issuance if so.
func (l *Limiter) CheckAndRecord(requester string) (bool, error) {
	decision, err := l.Reserve(requester)
	return decision.Allowed, err
}

// RetryAfter returns how long requester must wait, and false when the
// requester is not currently limited. It does not modify state.
func (l *Limiter) RetryAfter(requester string) (time.Duration, bool, error) {
	hash := l.hasher.sum(requester)
	if l.exempt.contains(hash) {
		return 0, false, nil
	}
	key := fmt.Sprintf("%x", hash)

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.load()
	if err != nil {
		return 0, false, err
	}
	now := l.clock.Now()
	l.prune(&state, now)

	timestamps := state.Invites[key]
	if len(timestamps) < l.max {
		return 0, false, nil
	}
	return l.retryAfter(timestamps, now), true, nil
}

// prune drops timestamps outside the window or unparseable, then
// requesters with nothing left. Surviving timestamps are sorted oldest
// first.
func (l *Limiter) prune(state *State, now time.Time) {
	for key, timestamps := range state.Invites {
		kept := timestamps[:0]
		for _, stamp := range timestamps {
			parsed, err := time.Parse(time.RFC3339Nano, stamp)
			if err != nil {
				continue
			}
			if now.Sub(parsed) < l.window {
				kept = append(kept, stamp)
			}
		}
		if len(kept) == 0 {
			delete(state.Invites, key)
			continue
		}
		sort.Slice(kept, func(i, j int) bool {
			left, _ := time.Parse(time.RFC3339Nano, kept[i])
			right, _ := time.Parse(time.RFC3339Nano, kept[j])
			return left.Before(right)
		})
		state.Invites[key] = kept
	}
}

// retryAfter assumes timestamps is pruned and sorted.
func (l *Limiter) retryAfter(timestamps []string, now time.Time) time.Duration {
	oldest, _ := time.Parse(time.RFC3339Nano, timestamps[0])
	remaining := oldest.Add(l.window).Sub(now)
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}

func (l *Limiter) load() (State, error) {
	state := State{Invites: map[string][]string{}}
	if _, err := statefile.Read(l.path, &state); err != nil {
		return State{}, errkind.New(errkind.IO, "load rate limit state", err)
	}
	if state.Invites == nil {
		state.Invites = map[string][]string{}
	}
	return state, nil
}

func (l *Limiter) save(state State) error {
	if err := statefile.Write(l.path, state); err != nil {
		return errkind.New(errkind.IO, "save rate limit state", err)
	}
	return nil
}

// Stats summarizes the live window: requesters with at least one
// issuance in it, and those currently at the cap. It does not modify
// state.
type Stats struct {
	Requesters int
	AtLimit    int
	Issuances  int
}

// Stats reads the state file and reports the live window.
func (l *Limiter) Stats() (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.load()
	if err != nil {
		return Stats{}, err
	}
	l.prune(&state, l.clock.Now())

	var stats Stats
	for _, timestamps := range state.Invites {
		stats.Requesters++
		stats.Issuances += len(timestamps)
		if len(timestamps) >= l.max {
			stats.AtLimit++
		}
	}
	return stats, nil
}
