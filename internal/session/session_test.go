// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import "testing"

func TestMultiQueueDiscardExec(t *testing.T) {
	s := New("sess1")
	if !s.BeginMulti() {
		t.Fatal("expected BeginMulti to succeed")
	}
	if s.BeginMulti() {
		t.Fatal("expected nested BeginMulti to fail")
	}
	s.Enqueue([]string{"SET", "a", "1"})
	s.Enqueue([]string{"SET", "b", "2"})

	queued, ok := s.TakeForExec()
	if !ok || len(queued) != 2 {
		t.Fatalf("got %v ok=%v", queued, ok)
	}
	if s.InMulti {
		t.Fatal("expected InMulti to be cleared after EXEC")
	}
}

func TestDiscardClearsQueue(t *testing.T) {
	s := New("sess1")
	s.BeginMulti()
	s.Enqueue([]string{"GET", "a"})
	if !s.Discard() {
		t.Fatal("expected Discard to succeed")
	}
	if _, ok := s.TakeForExec(); ok {
		t.Fatal("expected no transaction left to EXEC")
	}
}

func TestChannelJoinLeaveTracksMode(t *testing.T) {
	s := New("sess1")
	s.JoinChannel("news", 1)
	if s.Mode != ModeSubscriber {
		t.Fatal("expected subscriber mode after join")
	}
	s.LeaveChannel("news", 0)
	if s.Mode != ModeNormal {
		t.Fatal("expected normal mode after last channel left")
	}
}
