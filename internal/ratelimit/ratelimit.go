// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ratelimit bounds the command rate a single connection may sustain,
// so one noisy or malicious client can't starve the rest of the accept loop.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate.Limiter per connection.
type Limiter struct {
	enabled bool
	rl      *rate.Limiter
}

// New builds a Limiter allowing commandsPerSecond sustained throughput with
// a burst up to burst commands. enabled=false makes Allow always return
// true.
func New(enabled bool, commandsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		enabled: enabled,
		rl:      rate.NewLimiter(rate.Limit(commandsPerSecond), burst),
	}
}

// Allow reports whether one more command may proceed right now, consuming a
// token if so.
func (l *Limiter) Allow() bool {
	if !l.enabled {
		return true
	}
	return l.rl.Allow()
}

// Registry hands out one Limiter per connection ID, sharing configuration
// across all of them.
type Registry struct {
	mu                sync.Mutex
	enabled           bool
	commandsPerSecond float64
	burst             int
	limiters          map[string]*Limiter
}

func NewRegistry(enabled bool, commandsPerSecond float64, burst int) *Registry {
	return &Registry{
		enabled:           enabled,
		commandsPerSecond: commandsPerSecond,
		burst:             burst,
		limiters:          make(map[string]*Limiter),
	}
}

// For returns (creating if necessary) the Limiter for connID.
func (r *Registry) For(connID string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[connID]
	if !ok {
		l = New(r.enabled, r.commandsPerSecond, r.burst)
		r.limiters[connID] = l
	}
	return l
}

// Release drops connID's Limiter on disconnect.
func (r *Registry) Release(connID string) {
	r.mu.Lock()
	delete(r.limiters, connID)
	r.mu.Unlock()
}
