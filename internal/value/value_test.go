// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package value

import (
	"testing"
	"time"
)

func TestNewStringPromotesIntegers(t *testing.T) {
	v := NewString([]byte("42"))
	if v.Kind != KindInteger || v.Int != 42 {
		t.Fatalf("expected Integer(42), got %+v", v)
	}

	v2 := NewString([]byte("hello"))
	if v2.Kind != KindString {
		t.Fatalf("expected String, got %+v", v2)
	}
}

func TestExpiringPastDeadline(t *testing.T) {
	v := NewExpiring([]byte("x"), time.Now().Add(-time.Second))
	if _, ok := v.AsBytes(time.Now()); ok {
		t.Fatal("expected expired value to read as absent")
	}
}

func TestStreamIDOrdering(t *testing.T) {
	a := StreamID{Millis: 100, Seq: 5}
	b := StreamID{Millis: 100, Seq: 6}
	c := StreamID{Millis: 101, Seq: 0}
	if !a.Less(b) || !b.Less(c) || a.Less(a) {
		t.Fatal("ordering invariant broken")
	}
}

func TestStreamAppendAndRange(t *testing.T) {
	s := NewStream()
	id1 := StreamID{Millis: 1, Seq: 0}
	id2 := StreamID{Millis: 2, Seq: 0}
	s.Append(id1, []string{"f", "v1"})
	s.Append(id2, []string{"f", "v2"})

	all := s.Range(StreamID{}, MaxStreamID)
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}

	after := s.After(id1)
	if len(after) != 1 || after[0].ID != id2 {
		t.Fatalf("expected strictly-greater-than semantics, got %+v", after)
	}
}
