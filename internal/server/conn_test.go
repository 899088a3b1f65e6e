// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nishisan-dev/kvserver/internal/executor"
	"github.com/nishisan-dev/kvserver/internal/logging"
	"github.com/nishisan-dev/kvserver/internal/ratelimit"
	"github.com/nishisan-dev/kvserver/internal/replication"
	"github.com/nishisan-dev/kvserver/internal/store"
)

func newTestDeps() *Deps {
	engines := &executor.Engines{
		Map:    store.NewMapStore(),
		List:   store.NewListStore(),
		ZSet:   store.NewZSetStore(),
		PubSub: store.NewPubSub(),
	}
	coord := replication.NewCoordinator()
	logger, _ := logging.NewLogger("error", "text", "")
	return &Deps{
		Executor:    executor.New(engines, coord, "testreplid0000000000000000000000000000", true),
		Coordinator: coord,
		Engines:     engines,
		RateLimit:   ratelimit.NewRegistry(false, 0, 0),
		Logger:      logger,
	}
}

func TestHandleConnectionRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		HandleConnection(ctx, serverConn, newTestDeps(), "conn-1")
		close(done)
	}()

	clientConn.Write([]byte("*1\r\n$4\r\nPING\r\n"))
	reply := make([]byte, 7)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(clientConn, reply); err != nil {
		t.Fatalf("reading PING reply: %v", err)
	}
	if string(reply) != "+PONG\r\n" {
		t.Fatalf("got %q", reply)
	}

	clientConn.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))
	reply = make([]byte, 5)
	if _, err := readFull(clientConn, reply); err != nil {
		t.Fatalf("reading SET reply: %v", err)
	}
	if string(reply) != "+OK\r\n" {
		t.Fatalf("got %q", reply)
	}

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleConnection did not return after client closed")
	}
}

func TestHandleConnectionDeliversPublishedMessages(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deps := newTestDeps()

	done := make(chan struct{})
	go func() {
		HandleConnection(ctx, serverConn, deps, "conn-1")
		close(done)
	}()

	clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	clientConn.Write([]byte("*2\r\n$9\r\nSUBSCRIBE\r\n$4\r\nnews\r\n"))
	reader := bufio.NewReader(clientConn)
	ack, err := readRESPArray(reader)
	if err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if !strings.Contains(ack, "news") {
		t.Fatalf("got %q", ack)
	}

	pubSess := deps.Executor // unused: the publish below goes straight to the shared PubSub engine
	_ = pubSess

	go func() {
		// Give the push-forwarding goroutine time to observe SubscriberReady.
		time.Sleep(50 * time.Millisecond)
		deps.Engines.PubSub.Publish("news", []byte("hello"))
	}()

	push, err := readRESPArray(reader)
	if err != nil {
		t.Fatalf("reading pushed message: %v", err)
	}
	if !strings.Contains(push, "message") || !strings.Contains(push, "hello") {
		t.Fatalf("got %q", push)
	}

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleConnection did not return after client closed")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readRESPArray reads one RESP array reply and returns its raw bytes as a
// string, for substring assertions in tests that don't need full decoding.
func readRESPArray(r *bufio.Reader) (string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	n := 0
	neg := false
	for _, c := range header[1 : len(header)-2] {
		if c == '-' {
			neg = true
			continue
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		return header, nil
	}
	out := header
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		out += line
		if line[0] == '$' {
			payload, err := r.ReadString('\n')
			if err != nil {
				return "", err
			}
			out += payload
		}
	}
	return out, nil
}
