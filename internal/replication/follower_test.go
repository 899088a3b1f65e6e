// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replication

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeLeader drives the leader side of a handshake over a net.Pipe,
// replying to each expected follower message in order.
func fakeLeader(t *testing.T, conn net.Conn, rdbPayload []byte) {
	t.Helper()
	r := bufio.NewReader(conn)

	readArray := func() {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Errorf("fakeLeader: read header: %v", err)
			return
		}
		n := 0
		for _, c := range strings.TrimRight(line, "\r\n")[1:] {
			n = n*10 + int(c-'0')
		}
		for i := 0; i < n; i++ {
			if _, err := r.ReadString('\n'); err != nil {
				t.Errorf("fakeLeader: read bulk header: %v", err)
				return
			}
			if _, err := r.ReadString('\n'); err != nil {
				t.Errorf("fakeLeader: read bulk payload: %v", err)
				return
			}
		}
	}

	readArray() // PING
	conn.Write([]byte("+PONG\r\n"))
	readArray() // REPLCONF listening-port
	conn.Write([]byte("+OK\r\n"))
	readArray() // REPLCONF capa
	conn.Write([]byte("+OK\r\n"))
	readArray() // PSYNC
	conn.Write([]byte("+FULLRESYNC abc123 0\r\n"))
	conn.Write([]byte("$" + itoa(len(rdbPayload)) + "\r\n"))
	conn.Write(rdbPayload)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestFollowerHandshake(t *testing.T) {
	clientConn, leaderConn := net.Pipe()
	defer clientConn.Close()
	defer leaderConn.Close()

	go fakeLeader(t, leaderConn, []byte("REDIS0011fake"))

	f := NewFollower(clientConn, "6380", func(args []string) {})
	done := make(chan error, 1)
	go func() { done <- f.Handshake() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}

	if f.state != StateApplying {
		t.Fatalf("expected StateApplying, got %v", f.state)
	}
	if f.ReplID() != "abc123" {
		t.Fatalf("got replID %q", f.ReplID())
	}
}
