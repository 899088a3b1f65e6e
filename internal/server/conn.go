// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/nishisan-dev/kvserver/internal/logging"
	"github.com/nishisan-dev/kvserver/internal/resp"
	"github.com/nishisan-dev/kvserver/internal/session"
)

// HandleConnection runs one client connection end to end: the RESP command
// loop, concurrent push-message delivery once the session subscribes to a
// channel, and the switch into replica-outbound-stream mode once PSYNC
// completes. It returns once the connection closes.
func HandleConnection(ctx context.Context, conn net.Conn, deps *Deps, connID string) {
	defer conn.Close()
	defer deps.ActiveConns.Add(-1)

	sess := session.New(connID)
	defer deps.Engines.PubSub.UnsubscribeAll(connID)
	logger := deps.Logger
	if l, closer, _, err := logging.NewConnectionLogger(deps.Logger, deps.ConnLogDir, "client", connID); err != nil {
		deps.Logger.Error("opening connection log", "error", err, "conn_id", connID)
	} else {
		logger = l
		defer closer.Close()
	}
	defer logging.RemoveConnectionLog(deps.ConnLogDir, "client", connID)

	if deps.Metrics != nil {
		deps.Metrics.ConnectionsActive.Inc()
		defer deps.Metrics.ConnectionsActive.Dec()
	}
	defer deps.RateLimit.Release(connID)

	logger.Info("client connected", "remote", conn.RemoteAddr().String())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go forwardPushMessages(connCtx, conn, sess, logger)

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		args, err := resp.ReadCommand(reader)
		if err != nil {
			logger.Debug("connection read ended", "error", err)
			return
		}
		if len(args) == 0 {
			continue
		}

		if !deps.RateLimit.For(connID).Allow() {
			conn.Write(resp.EncodeError("ERR rate limit exceeded"))
			continue
		}

		if deps.Metrics != nil {
			deps.Metrics.CommandsTotal.WithLabelValues(strings.ToUpper(args[0])).Inc()
		}

		result := deps.Executor.Execute(sess, args)

		if result.BecomeReplica {
			if _, err := conn.Write(result.FullResync); err != nil {
				logger.Debug("replica handshake write failed", "error", err)
				return
			}
			runReplicaStream(connCtx, conn, sess, deps, connID, logger)
			return
		}

		if result.Reply != nil {
			if _, err := conn.Write(result.Reply); err != nil {
				logger.Debug("connection write failed", "error", err)
				return
			}
		}
	}
}

// forwardPushMessages waits for the session's pub/sub delivery endpoint to
// be created (on the session's first SUBSCRIBE) and then forwards every
// published message to the connection as a RESP push array, running
// concurrently with the blocking command-read loop above.
func forwardPushMessages(ctx context.Context, conn net.Conn, sess *session.Session, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-sess.SubscriberReady():
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sess.Subscriber.Ch:
			if !ok {
				return
			}
			payload := resp.EncodeArray(
				resp.EncodeBulkString([]byte("message")),
				resp.EncodeBulkString([]byte(msg.Channel)),
				resp.EncodeBulkString(msg.Payload),
			)
			if _, err := conn.Write(payload); err != nil {
				logger.Debug("push message write failed", "error", err)
				return
			}
		}
	}
}

// runReplicaStream takes over a connection that just completed PSYNC: it
// registers a Replica with the coordinator and drains its outbound queue to
// the socket until the connection closes, independent of any further reads
// (a replica only ever sends REPLCONF ACK, handled by a parallel reader).
func runReplicaStream(ctx context.Context, conn net.Conn, sess *session.Session, deps *Deps, connID string, logger *slog.Logger) {
	sess.IsReplica = true
	sess.Mode = session.ModeReplica
	sess.ReplicaID = connID
	replica := deps.Coordinator.RegisterReplica(connID)
	defer deps.Coordinator.RemoveReplica(connID)
	if deps.Metrics != nil {
		deps.Metrics.ReplicasConnected.Inc()
		defer deps.Metrics.ReplicasConnected.Dec()
	}
	logger.Info("replica registered", "conn_id", connID)

	go readReplicaAcks(ctx, conn, connID, deps)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-replica.Outbound:
			if !ok {
				return
			}
			if _, err := conn.Write(payload); err != nil {
				logger.Debug("replica stream write failed", "error", err)
				return
			}
		}
	}
}

// readReplicaAcks reads REPLCONF ACK <offset> commands off a replica
// connection and feeds them to the coordinator; it is the replica stream's
// only inbound traffic.
func readReplicaAcks(ctx context.Context, conn net.Conn, connID string, deps *Deps) {
	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		args, err := resp.ReadCommand(reader)
		if err != nil {
			return
		}
		if len(args) >= 3 && strings.EqualFold(args[0], "REPLCONF") && strings.EqualFold(args[1], "ACK") {
			if offset, perr := strconv.ParseInt(args[2], 10, 64); perr == nil {
				deps.Coordinator.UpdateAck(connID, offset)
			}
		}
	}
}
