// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package replication implements both sides of leader/follower replication:
// the leader-side Coordinator that fans write commands out to connected
// replicas and answers WAIT, and the follower-side handshake state machine
// that drives PSYNC against an upstream leader.
package replication

import (
	"sync"
	"time"

	"github.com/nishisan-dev/kvserver/internal/resp"
)

// outboundQueueDepth bounds a replica's pending-command queue. A replica
// that falls behind this far is too slow to keep fed without stalling the
// leader; its queue simply drops further sends (see Replica.send).
const outboundQueueDepth = 4096

// Replica is the leader's view of one connected follower: a bounded
// outbound queue of RESP-encoded commands and the follower's last
// acknowledged byte offset.
type Replica struct {
	ID        string
	Outbound  chan []byte
	AckOffset int64 // guarded by Coordinator.mu

	mu sync.Mutex
}

func (r *Replica) send(payload []byte) {
	select {
	case r.Outbound <- payload:
	default:
		// Queue full: the replica is too far behind to catch up without
		// blocking the write path. The payload is dropped; nothing here
		// triggers a resynchronization.
	}
}

// Coordinator tracks the leader's write offset and its connected replicas.
// master_write_offset only ever advances by the exact byte length of each
// RESP-encoded command fanned out, so bytes_synced accounting on both sides
// stays exact.
type Coordinator struct {
	mu          sync.Mutex
	writeOffset int64
	replicas    map[string]*Replica
}

func NewCoordinator() *Coordinator {
	return &Coordinator{replicas: make(map[string]*Replica)}
}

// RegisterReplica creates and tracks a new replica's outbound queue.
func (c *Coordinator) RegisterReplica(id string) *Replica {
	r := &Replica{ID: id, Outbound: make(chan []byte, outboundQueueDepth)}
	c.mu.Lock()
	c.replicas[id] = r
	c.mu.Unlock()
	return r
}

// RemoveReplica drops a disconnected replica from the fan-out set.
func (c *Coordinator) RemoveReplica(id string) {
	c.mu.Lock()
	delete(c.replicas, id)
	c.mu.Unlock()
}

// ReplicaCount reports how many replicas are currently connected.
func (c *Coordinator) ReplicaCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replicas)
}

// WriteOffset reports the leader's current master_write_offset.
func (c *Coordinator) WriteOffset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeOffset
}

// Propagate RESP-encodes args and fans it out to every connected replica,
// advancing master_write_offset by the encoded length regardless of
// whether any replica is currently connected (offset tracking is
// independent of fan-out success).
func (c *Coordinator) Propagate(args []string) int64 {
	encoded := resp.EncodeCommand(args)

	c.mu.Lock()
	c.writeOffset += int64(len(encoded))
	offset := c.writeOffset
	replicas := make([]*Replica, 0, len(c.replicas))
	for _, r := range c.replicas {
		replicas = append(replicas, r)
	}
	c.mu.Unlock()

	for _, r := range replicas {
		r.send(encoded)
	}
	return offset
}

// UpdateAck records a replica's REPLCONF ACK offset.
func (c *Coordinator) UpdateAck(id string, offset int64) {
	c.mu.Lock()
	if r, ok := c.replicas[id]; ok {
		r.mu.Lock()
		r.AckOffset = offset
		r.mu.Unlock()
	}
	c.mu.Unlock()
}

// Wait implements WAIT numreplicas timeout: it broadcasts REPLCONF GETACK *
// (counted toward the write offset like any other propagated command, with
// no separate throttling), then polls acknowledged offsets until at least
// numReplicas have caught up to the offset in effect when WAIT was called,
// or timeoutMillis elapses (0 means wait indefinitely). Returns the number
// of replicas that had caught up when it returned.
func (c *Coordinator) Wait(numReplicas int, timeoutMillis int64) int {
	target := c.WriteOffset()
	if c.caughtUpCount(target) >= numReplicas {
		return c.caughtUpCount(target)
	}

	c.Propagate([]string{"REPLCONF", "GETACK", "*"})

	deadline := time.Time{}
	if timeoutMillis > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMillis) * time.Millisecond)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n := c.caughtUpCount(target); n >= numReplicas {
			return n
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return c.caughtUpCount(target)
		}
		<-ticker.C
	}
}

func (c *Coordinator) caughtUpCount(target int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.replicas {
		r.mu.Lock()
		if r.AckOffset >= target {
			n++
		}
		r.mu.Unlock()
	}
	return n
}
