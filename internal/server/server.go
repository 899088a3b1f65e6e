// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server runs kv-server's accept loop and per-connection command
// dispatch: a plain TCP listener speaking RESP, with an optional follower
// goroutine when the instance is configured as a replica.
package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/kvserver/internal/config"
	"github.com/nishisan-dev/kvserver/internal/executor"
	"github.com/nishisan-dev/kvserver/internal/hoststats"
	"github.com/nishisan-dev/kvserver/internal/metrics"
	"github.com/nishisan-dev/kvserver/internal/ratelimit"
	"github.com/nishisan-dev/kvserver/internal/rdb"
	"github.com/nishisan-dev/kvserver/internal/replication"
	"github.com/nishisan-dev/kvserver/internal/session"
	"github.com/nishisan-dev/kvserver/internal/store"
)

// rdbSnapshotInterval is how often a leader dumps its map engine's string
// keyspace to the configured RDB path, when one is set.
const rdbSnapshotInterval = 5 * time.Minute

// maxActiveConns bounds the number of simultaneously admitted connections.
// The accept loop increments ActiveConns before handing a connection to
// HandleConnection; if the post-increment count reaches the bound, the
// connection is refused by closing it with no reply.
const maxActiveConns = 10000

// Deps bundles the shared, connection-independent state every per-connection
// goroutine dispatches against.
type Deps struct {
	Executor    *executor.Executor
	Coordinator *replication.Coordinator
	Engines     *executor.Engines
	RateLimit   *ratelimit.Registry
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	ConnLogDir  string

	// ActiveConns is the process-wide connection admission counter, mirroring
	// the teacher's ActiveConns atomic.Int32.
	ActiveConns atomic.Int32
}

// Run builds the engines, executor, and optional metrics/replication
// machinery from cfg, then blocks accepting connections until ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	engines := &executor.Engines{
		Map:    store.NewMapStore(),
		List:   store.NewListStore(),
		ZSet:   store.NewZSetStore(),
		PubSub: store.NewPubSub(),
	}

	if cfg.RDB.Path != "" {
		if entries, err := rdb.Load("", cfg.RDB.Path); err != nil {
			logger.Error("loading RDB snapshot", "error", err, "path", cfg.RDB.Path)
		} else {
			for _, e := range entries {
				engines.Map.Set(e.Key, e.Value, e.Deadline)
			}
			logger.Info("loaded RDB snapshot", "path", cfg.RDB.Path, "keys", len(entries))
		}
	}

	coord := replication.NewCoordinator()
	isLeader := cfg.ReplicaOf == ""
	replID := generateReplID()
	exec := executor.New(engines, coord, replID, isLeader)

	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		m, reg := metrics.New()
		met = m
		shutdown := metrics.ServeHTTP(cfg.Metrics.Listen, reg)
		defer shutdown(context.Background())
		logger.Info("metrics listening", "address", cfg.Metrics.Listen)
	}

	if sampler, err := hoststats.New(int32(os.Getpid())); err == nil {
		go sampler.Run(ctx, 10*time.Second)
	}

	deps := &Deps{
		Executor:    exec,
		Coordinator: coord,
		Engines:     engines,
		RateLimit:   ratelimit.NewRegistry(cfg.RateLimit.Enabled, cfg.RateLimit.CommandsPerSecond, cfg.RateLimit.Burst),
		Metrics:     met,
		Logger:      logger,
	}

	if cfg.RDB.Path != "" && isLeader {
		go runSnapshotLoop(ctx, engines, cfg.RDB.Path, logger)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	defer ln.Close()
	logger.Info("kv-server listening", "address", cfg.Listen, "role", roleString(isLeader))

	if !isLeader {
		go runFollower(ctx, cfg, exec, logger)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down kv-server")
		ln.Close()
	}()

	var connCounter atomic.Int64
	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("kv-server shutdown complete")
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0

		if n := deps.ActiveConns.Add(1); n >= maxActiveConns {
			deps.ActiveConns.Add(-1)
			logger.Warn("refusing connection: admission bound reached", "bound", maxActiveConns)
			conn.Close()
			continue
		}

		id := connCounter.Add(1)
		go HandleConnection(ctx, conn, deps, "conn-"+strconv.FormatInt(id, 10))
	}
}

func roleString(isLeader bool) string {
	if isLeader {
		return "leader"
	}
	return "follower"
}

func runSnapshotLoop(ctx context.Context, engines *executor.Engines, path string, logger *slog.Logger) {
	ticker := time.NewTicker(rdbSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries := engines.Map.SnapshotStrings()
			if err := os.WriteFile(path, rdb.Dump(entries), 0644); err != nil {
				logger.Error("writing RDB snapshot", "error", err, "path", path)
			}
		}
	}
}

// runFollower drives the replica side against cfg.ReplicaOf, reconnecting
// with backoff on any handshake or stream error. Applied commands run
// against a single long-lived session shared across reconnects, since a
// follower's applied stream has no notion of client transactions or
// pub/sub — only its write side effects matter.
func runFollower(ctx context.Context, cfg *config.ServerConfig, exec *executor.Executor, logger *slog.Logger) {
	_, listeningPort, _ := net.SplitHostPort(cfg.Listen)
	applySess := session.New("replication-apply")
	apply := func(args []string) {
		if len(args) == 0 {
			return
		}
		exec.Execute(applySess, args)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", cfg.ReplicaOf)
		if err != nil {
			logger.Error("connecting to leader", "error", err, "leader", cfg.ReplicaOf)
			time.Sleep(cfg.Replication.ReconnectBackoff)
			continue
		}

		follower := replication.NewFollower(conn, listeningPort, apply)
		if err := follower.Handshake(); err != nil {
			logger.Error("replication handshake failed", "error", err, "leader", cfg.ReplicaOf)
			conn.Close()
			time.Sleep(cfg.Replication.ReconnectBackoff)
			continue
		}
		logger.Info("replication handshake complete", "leader", cfg.ReplicaOf, "replid", follower.ReplID())

		if err := follower.Run(ctx); err != nil {
			logger.Error("replication stream ended", "error", err, "leader", cfg.ReplicaOf)
		}
		conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
			time.Sleep(cfg.Replication.ReconnectBackoff)
		}
	}
}

// generateReplID produces a 40-hex-digit replication ID, matching the
// shape (if not the cryptographic provenance) of a Redis run ID.
func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", 40)
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 40)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0x0F]
	}
	return string(out)
}
