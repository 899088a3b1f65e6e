// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package session holds the per-connection state a command dispatcher needs
// beyond the engines themselves: transaction queueing, pub/sub mode, and
// replication role.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/kvserver/internal/store"
)

// Mode is which of the three mutually exclusive session bodies a connection
// is currently running: the default request/reply loop, subscriber mode
// (entered by SUBSCRIBE, restricted to a handful of commands), or replica
// mode (entered once PSYNC completes, after which the connection carries
// only the replication command stream).
type Mode int

const (
	ModeNormal Mode = iota
	ModeSubscriber
	ModeReplica
)

// Session is the state carried for the lifetime of one client connection.
type Session struct {
	ID   string
	Mode Mode

	// Transaction queueing (MULTI/EXEC/DISCARD). EXEC replays the queued
	// commands one by one without holding any lock across them, so other
	// clients' commands can interleave with them — EXEC is not atomic.
	InMulti bool
	Queued  [][]string

	// Pub/Sub. Subscriber is created lazily on the session's first
	// SUBSCRIBE and shared across every channel it joins. subReady is
	// closed exactly once, the moment Subscriber is first assigned, so the
	// connection's push-message forwarding goroutine can block until
	// there's something to forward instead of polling.
	Subscriber *store.Subscriber
	Channels   map[string]bool
	subReady   chan struct{}
	subOnce    sync.Once

	// Replication. Set once PSYNC's handshake completes and the connection
	// becomes a replica's write stream.
	IsReplica     bool
	ReplicaID     string
	BytesSynced   atomic.Int64
	ReplicaOffset atomic.Int64
}

func New(id string) *Session {
	return &Session{ID: id, Channels: make(map[string]bool), subReady: make(chan struct{})}
}

// SetSubscriber assigns the session's shared pub/sub delivery endpoint,
// signaling SubscriberReady the first time it's called.
func (s *Session) SetSubscriber(sub *store.Subscriber) {
	s.Subscriber = sub
	s.subOnce.Do(func() { close(s.subReady) })
}

// SubscriberReady is closed the moment Subscriber is first assigned.
func (s *Session) SubscriberReady() <-chan struct{} { return s.subReady }

// BeginMulti switches the session into queueing mode. Returns false if a
// transaction is already open.
func (s *Session) BeginMulti() bool {
	if s.InMulti {
		return false
	}
	s.InMulti = true
	s.Queued = nil
	return true
}

// Enqueue appends a command to the open transaction. Caller must check
// InMulti first.
func (s *Session) Enqueue(cmd []string) {
	s.Queued = append(s.Queued, cmd)
}

// Discard clears a transaction without executing it. Returns false if none
// was open.
func (s *Session) Discard() bool {
	if !s.InMulti {
		return false
	}
	s.InMulti = false
	s.Queued = nil
	return true
}

// TakeForExec ends the transaction and hands back its queued commands for
// sequential, non-atomic execution.
func (s *Session) TakeForExec() ([][]string, bool) {
	if !s.InMulti {
		return nil, false
	}
	queued := s.Queued
	s.InMulti = false
	s.Queued = nil
	return queued, true
}

// JoinChannel marks channel as subscribed and returns the session's new
// total subscription count (the third element of a SUBSCRIBE reply).
func (s *Session) JoinChannel(channel string, count int) int {
	s.Channels[channel] = true
	s.Mode = ModeSubscriber
	return count
}

// LeaveChannel marks channel as unsubscribed, dropping out of subscriber
// mode once no channels remain.
func (s *Session) LeaveChannel(channel string, count int) int {
	delete(s.Channels, channel)
	if len(s.Channels) == 0 {
		s.Mode = ModeNormal
	}
	return count
}
