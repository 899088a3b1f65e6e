// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nishisan-dev/kvserver/internal/resp"
)

// HandshakeState is one step of the follower's PSYNC handshake against its
// leader. Stages run strictly in order; a reply that doesn't match the
// expected stage is a fatal handshake error.
type HandshakeState int

const (
	StateWaitingPong HandshakeState = iota
	StateWaitingReplconfOK1
	StateWaitingReplconfOK2
	StateWaitingFullResync
	StateReadingRDB
	StateApplying
)

// ApplyFunc applies one replicated command to the local engines. It is
// called from the follower's read loop only — never concurrently.
type ApplyFunc func(args []string)

// ackInterval is how often the follower reports its applied offset back to
// the leader via REPLCONF ACK while in the Applying state.
const ackInterval = time.Second

// Follower drives the replica side of one leader connection: the PSYNC
// handshake, then a loop that decodes and applies the replication command
// stream and periodically reports progress.
type Follower struct {
	conn          net.Conn
	reader        *bufio.Reader
	listeningPort string
	apply         ApplyFunc

	state      HandshakeState
	replID     string
	offset     int64
	leftover   []byte // not assigned; bytes past the RDB payload stay buffered in reader
}

func NewFollower(conn net.Conn, listeningPort string, apply ApplyFunc) *Follower {
	return &Follower{
		conn:          conn,
		reader:        bufio.NewReader(conn),
		listeningPort: listeningPort,
		apply:         apply,
	}
}

func (f *Follower) writeCommand(args []string) error {
	_, err := f.conn.Write(resp.EncodeCommand(args))
	return err
}

func (f *Follower) readLine() (string, error) {
	line, err := f.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Handshake runs the full PING -> REPLCONF listening-port -> REPLCONF capa
// -> PSYNC sequence and reads through the RDB preamble, leaving f ready for
// Run to begin applying the command stream. On success f.state is
// StateApplying.
func (f *Follower) Handshake() error {
	expect := func(want string) error {
		line, err := f.readLine()
		if err != nil {
			return err
		}
		if line != want {
			return fmt.Errorf("handshake: expected %q, got %q", want, line)
		}
		return nil
	}

	f.state = StateWaitingPong
	if err := f.writeCommand([]string{"PING"}); err != nil {
		return err
	}
	if err := expect("+PONG"); err != nil {
		return err
	}

	f.state = StateWaitingReplconfOK1
	if err := f.writeCommand([]string{"REPLCONF", "listening-port", f.listeningPort}); err != nil {
		return err
	}
	if err := expect("+OK"); err != nil {
		return err
	}

	f.state = StateWaitingReplconfOK2
	if err := f.writeCommand([]string{"REPLCONF", "capa", "eof", "capa", "psync2"}); err != nil {
		return err
	}
	if err := expect("+OK"); err != nil {
		return err
	}

	f.state = StateWaitingFullResync
	if err := f.writeCommand([]string{"PSYNC", "?", "-1"}); err != nil {
		return err
	}
	line, err := f.readLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "+FULLRESYNC") {
		return fmt.Errorf("handshake: expected +FULLRESYNC, got %q", line)
	}
	// "+FULLRESYNC <replid> <offset>"
	fields := strings.Fields(strings.TrimPrefix(line, "+"))
	if len(fields) == 3 {
		f.replID = fields[1]
		if off, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			f.offset = off
		}
	}

	f.state = StateReadingRDB
	if err := f.readRDBPreamble(); err != nil {
		return err
	}

	f.state = StateApplying
	return nil
}

// readRDBPreamble consumes the RDB bulk-string payload the leader sends
// immediately after +FULLRESYNC. Unlike a normal RESP bulk string, the RDB
// payload has no trailing CRLF terminator, matching the leader's writer.
func (f *Follower) readRDBPreamble() error {
	header, err := f.readLine()
	if err != nil {
		return err
	}
	length, err := strconv.Atoi(strings.TrimPrefix(header, "$"))
	if err != nil {
		return err
	}
	buf := make([]byte, length)
	total := 0
	for total < length {
		n, err := f.reader.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

// Run enters the Applying loop: it reads raw bytes off the connection,
// decodes as many complete RESP arrays as are available per read (the
// stream is not framed per-read — a read can contain a partial command, or
// several), applies each to the engines via apply, advances the follower's
// offset by exactly the bytes consumed, and answers REPLCONF GETACK with an
// ACK of its own. It returns when ctx is cancelled or the connection errors.
func (f *Follower) Run(ctx context.Context) error {
	lastAck := time.Now()
	buf := f.leftover
	readBuf := make([]byte, 64*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := f.reader.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			commands, consumed := resp.ParseCommands(buf)
			for _, cmd := range commands {
				f.applyCommand(cmd)
			}
			buf = buf[consumed:]
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// fallthrough to the periodic ACK check below
			} else {
				return err
			}
		}

		if time.Since(lastAck) >= ackInterval {
			f.writeCommand([]string{"REPLCONF", "ACK", strconv.FormatInt(f.offset, 10)})
			lastAck = time.Now()
		}
	}
}

func (f *Follower) applyCommand(cmd []string) {
	if len(cmd) == 0 {
		return
	}
	encodedLen := int64(len(resp.EncodeCommand(cmd)))
	if strings.EqualFold(cmd[0], "REPLCONF") && len(cmd) >= 2 && strings.EqualFold(cmd[1], "GETACK") {
		f.offset += encodedLen
		f.writeCommand([]string{"REPLCONF", "ACK", strconv.FormatInt(f.offset, 10)})
		return
	}
	f.apply(cmd)
	f.offset += encodedLen
}

// Offset reports the follower's applied byte offset.
func (f *Follower) Offset() int64 { return f.offset }

// ReplID reports the leader's replication ID from the FULLRESYNC reply.
func (f *Follower) ReplID() string { return f.replID }
