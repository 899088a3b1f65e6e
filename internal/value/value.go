// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package value implements the tagged-union Value the map engine stores one
// of per key, plus the stream entry store. The sorted-set and list engines
// keep their own independent collections (see internal/store) rather than
// wrapping them in Value — per the component design, engines never share a
// key namespace or a lock.
package value

import (
	"fmt"
	"strconv"
	"time"
)

// Kind tags which variant a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindExpiring
	KindStream
)

// Value is one logical value stored under a key in the map engine.
type Value struct {
	Kind     Kind
	Bytes    []byte    // String, Expiring
	Int      int64     // Integer
	Deadline time.Time // Expiring: absolute deadline
	Stream   *Stream   // Stream
}

// Expired reports whether an Expiring value's deadline has passed. Non-
// Expiring values are never expired.
func (v *Value) Expired(now time.Time) bool {
	return v.Kind == KindExpiring && !v.Deadline.IsZero() && now.After(v.Deadline)
}

// AsBytes renders a String/Integer/Expiring value as bytes for GET-style
// reads. Integer is stringified to its canonical decimal form. Returns
// (nil, false) for Stream or an expired Expiring value.
func (v *Value) AsBytes(now time.Time) ([]byte, bool) {
	switch v.Kind {
	case KindString:
		return v.Bytes, true
	case KindInteger:
		return []byte(strconv.FormatInt(v.Int, 10)), true
	case KindExpiring:
		if v.Expired(now) {
			return nil, false
		}
		return v.Bytes, true
	default:
		return nil, false
	}
}

// TypeName implements the TYPE command's string|stream|none|number taxonomy
// for a present value (absence is handled by the caller).
func (v *Value) TypeName() string {
	switch v.Kind {
	case KindInteger:
		return "number"
	case KindStream:
		return "stream"
	default:
		return "string"
	}
}

// NewString builds a plain string Value, auto-promoting to Integer when the
// payload parses cleanly as an i64 and no TTL is requested — matching SET's
// "no TTL option and value parses as integer" rule.
func NewString(b []byte) Value {
	if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		return Value{Kind: KindInteger, Int: n}
	}
	return Value{Kind: KindString, Bytes: b}
}

// NewExpiring builds a Value that is logically absent past deadline.
func NewExpiring(b []byte, deadline time.Time) Value {
	return Value{Kind: KindExpiring, Bytes: b, Deadline: deadline}
}

// StreamID is a stream entry identifier (millis, seq), strictly increasing
// within a stream and rendered "<millis>-<seq>".
type StreamID struct {
	Millis uint64
	Seq    uint64
}

func (id StreamID) String() string {
	return fmt.Sprintf("%d-%d", id.Millis, id.Seq)
}

// Less reports id < other under (millis, seq) lexicographic order.
func (id StreamID) Less(other StreamID) bool {
	if id.Millis != other.Millis {
		return id.Millis < other.Millis
	}
	return id.Seq < other.Seq
}

func (id StreamID) IsZero() bool { return id.Millis == 0 && id.Seq == 0 }

// StreamEntry is one appended record: its ID plus flattened field/value
// pairs (f1, v1, f2, v2, ...).
type StreamEntry struct {
	ID     StreamID
	Fields []string
}

// Stream is an ordered map of entry IDs to entries. Entries are appended in
// strictly increasing ID order and are never mutated or removed.
type Stream struct {
	Entries []StreamEntry
	LastID  StreamID
	TimeMap map[uint64]uint64 // millis -> max seq seen for that millis
}

func NewStream() *Stream {
	return &Stream{TimeMap: make(map[uint64]uint64)}
}

// Append inserts an already-validated entry and advances LastID/TimeMap.
func (s *Stream) Append(id StreamID, fields []string) {
	s.Entries = append(s.Entries, StreamEntry{ID: id, Fields: fields})
	s.LastID = id
	if prev, ok := s.TimeMap[id.Millis]; !ok || id.Seq > prev {
		s.TimeMap[id.Millis] = id.Seq
	}
}

// Range returns entries with start <= id <= stop (inclusive-inclusive), used
// by XRANGE. Callers resolve "-"/"+" sentinels to zero/max StreamID first.
func (s *Stream) Range(start, stop StreamID) []StreamEntry {
	var out []StreamEntry
	for _, e := range s.Entries {
		if !e.ID.Less(start) && !stop.Less(e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// After returns entries with id strictly greater than after, used by XREAD's
// "greater than" (not >=) semantics.
func (s *Stream) After(after StreamID) []StreamEntry {
	var out []StreamEntry
	for _, e := range s.Entries {
		if after.Less(e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// MaxStreamID is the "+" sentinel for XRANGE.
var MaxStreamID = StreamID{Millis: ^uint64(0), Seq: ^uint64(0)}
