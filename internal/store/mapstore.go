// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/kvserver/internal/rdb"
	"github.com/nishisan-dev/kvserver/internal/rerr"
	"github.com/nishisan-dev/kvserver/internal/value"
)

// StreamDelivery is what an XREAD BLOCK waiter receives: the key that was
// appended to and the entries appended since its registration point.
type StreamDelivery struct {
	Key     string
	Entries []value.StreamEntry
}

type streamWaiter struct {
	ch        chan StreamDelivery
	after     value.StreamID
	cancelled atomic.Bool
}

// MapStore is the general key->value engine: strings, auto-promoted
// integers, TTL-bearing expiring strings, and streams, plus the per-key
// waiter queues XREAD BLOCK registers against. One RWMutex guards the data
// map; a separate mutex guards the waiter queues, since waiter wake-up must
// never block a concurrent reader.
type MapStore struct {
	mu   sync.RWMutex
	data map[string]value.Value

	waitersMu sync.Mutex
	waiters   map[string][]*streamWaiter

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewMapStore() *MapStore {
	return &MapStore{
		data:    make(map[string]value.Value),
		waiters: make(map[string][]*streamWaiter),
		Now:     time.Now,
	}
}

// Set stores a plain or TTL-bearing string, auto-promoting to Integer per
// value.NewString's rule. A zero deadline means no expiry.
func (m *MapStore) Set(key string, b []byte, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deadline.IsZero() {
		m.data[key] = value.NewString(b)
	} else {
		m.data[key] = value.NewExpiring(b, deadline)
	}
}

// Get returns the live bytes for key, or (nil, false) if absent, expired, or
// a stream (streams are not readable via GET).
func (m *MapStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return v.AsBytes(m.Now())
}

// Incr applies INCR/INCRBY-style delta to an Integer (or absent, treated as
// 0) key and returns the new value. A non-integer existing value is a
// KindWrongType error.
func (m *MapStore) Incr(key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok || v.Expired(m.Now()) {
		m.data[key] = value.Value{Kind: value.KindInteger, Int: delta}
		return delta, nil
	}
	if v.Kind != value.KindInteger {
		return 0, rerr.New(rerr.KindWrongType, "value is not an integer")
	}
	n := v.Int + delta
	m.data[key] = value.Value{Kind: value.KindInteger, Int: n}
	return n, nil
}

// Type returns the TYPE taxonomy string for key, or "none" if absent/expired.
func (m *MapStore) Type(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok || v.Expired(m.Now()) {
		return "none"
	}
	return v.TypeName()
}

// Exists reports whether key is present and not expired.
func (m *MapStore) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return ok && !v.Expired(m.Now())
}

// TTLMillis returns remaining TTL in milliseconds, -1 if the key has no
// expiry, -2 if absent/expired.
func (m *MapStore) TTLMillis(key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return -2
	}
	if v.Kind != value.KindExpiring {
		if v.Expired(m.Now()) {
			return -2
		}
		return -1
	}
	if v.Expired(m.Now()) {
		return -2
	}
	return v.Deadline.Sub(m.Now()).Milliseconds()
}

// SnapshotStrings returns every live string/integer key as an rdb.Entry-
// shaped tuple for periodic persistence. Streams are not snapshotted: the
// RDB subset this server persists only covers the string keyspace.
func (m *MapStore) SnapshotStrings() []rdb.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.Now()
	var out []rdb.Entry
	for key, v := range m.data {
		if v.Expired(now) {
			continue
		}
		b, ok := v.AsBytes(now)
		if !ok {
			continue
		}
		out = append(out, rdb.Entry{Key: key, Value: b, Deadline: v.Deadline})
	}
	return out
}

// Del removes key and reports whether it had been present.
func (m *MapStore) Del(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	delete(m.data, key)
	return ok
}

// streamAt returns the stream at key, creating it if absent. Caller must
// hold m.mu.
func (m *MapStore) streamAt(key string) (*value.Stream, error) {
	v, ok := m.data[key]
	if !ok {
		s := value.NewStream()
		m.data[key] = value.Value{Kind: value.KindStream, Stream: s}
		return s, nil
	}
	if v.Kind != value.KindStream {
		return nil, rerr.New(rerr.KindWrongType, "WRONGTYPE Operation against a key holding the wrong kind of value")
	}
	return v.Stream, nil
}

// XAdd appends an entry under idArg ("*", "<millis>-*", or "<millis>-<seq>")
// and returns the assigned ID, then wakes any XREAD BLOCK waiters registered
// for entries after their point.
func (m *MapStore) XAdd(key, idArg string, fields []string) (value.StreamID, error) {
	m.mu.Lock()
	s, err := m.streamAt(key)
	if err != nil {
		m.mu.Unlock()
		return value.StreamID{}, err
	}
	id, err := resolveStreamID(s, idArg, m.Now)
	if err != nil {
		m.mu.Unlock()
		return value.StreamID{}, err
	}
	s.Append(id, fields)
	entries := s.Entries
	m.mu.Unlock()

	m.wakeStreamWaiters(key, entries)
	return id, nil
}

func (m *MapStore) wakeStreamWaiters(key string, allEntries []value.StreamEntry) {
	m.waitersMu.Lock()
	queue := m.waiters[key]
	var remaining []*streamWaiter
	for _, w := range queue {
		if w.cancelled.Load() {
			continue
		}
		var after []value.StreamEntry
		for _, e := range allEntries {
			if w.after.Less(e.ID) {
				after = append(after, e)
			}
		}
		if len(after) == 0 {
			remaining = append(remaining, w)
			continue
		}
		select {
		case w.ch <- StreamDelivery{Key: key, Entries: after}:
		default:
		}
	}
	if len(remaining) == 0 {
		delete(m.waiters, key)
	} else {
		m.waiters[key] = remaining
	}
	m.waitersMu.Unlock()
}

// XRange returns entries with start <= id <= stop for key (nil if absent).
func (m *MapStore) XRange(key string, start, stop value.StreamID) ([]value.StreamEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	if v.Kind != value.KindStream {
		return nil, rerr.New(rerr.KindWrongType, "WRONGTYPE Operation against a key holding the wrong kind of value")
	}
	return v.Stream.Range(start, stop), nil
}

// XReadImmediate returns entries strictly after `after` without blocking.
func (m *MapStore) XReadImmediate(key string, after value.StreamID) ([]value.StreamEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	if v.Kind != value.KindStream {
		return nil, rerr.New(rerr.KindWrongType, "WRONGTYPE Operation against a key holding the wrong kind of value")
	}
	return v.Stream.After(after), nil
}

// XReadBlock blocks until at least one entry after `after` is appended to
// key, or timeoutSecs elapses (0 means block indefinitely).
func (m *MapStore) XReadBlock(key string, after value.StreamID, timeoutSecs float64) ([]value.StreamEntry, bool, error) {
	if entries, err := m.XReadImmediate(key, after); err != nil {
		return nil, false, err
	} else if len(entries) > 0 {
		return entries, true, nil
	}

	w := &streamWaiter{ch: make(chan StreamDelivery, 1), after: after}
	m.waitersMu.Lock()
	queue := m.waiters[key]
	if len(queue) >= maxWaitersPerKey {
		m.waitersMu.Unlock()
		return nil, false, rerr.ErrTooManyWaiters
	}
	m.waiters[key] = append(queue, w)
	m.waitersMu.Unlock()

	if timeoutSecs == 0 {
		d := <-w.ch
		return d.Entries, true, nil
	}

	timer := time.NewTimer(time.Duration(timeoutSecs * float64(time.Second)))
	defer timer.Stop()
	select {
	case d := <-w.ch:
		return d.Entries, true, nil
	case <-timer.C:
		w.cancelled.Store(true)
		return nil, false, nil
	}
}

// resolveStreamID implements the XADD ID-assignment rules: "*" auto-generates
// from wall-clock millis with a per-millis sequence counter; "<millis>-*"
// auto-generates only the sequence part; a literal "<millis>-<seq>" is used
// as-is. 0-0 is always rejected, and a new ID must be strictly greater than
// the stream's last ID.
func resolveStreamID(s *value.Stream, idArg string, now func() time.Time) (value.StreamID, error) {
	var millis uint64
	var seq uint64
	var seqAuto bool

	if idArg == "*" {
		millis = uint64(now().UnixMilli())
		seqAuto = true
	} else {
		ms, seqPart, err := splitStreamIDArg(idArg)
		if err != nil {
			return value.StreamID{}, err
		}
		millis = ms
		if seqPart == "*" {
			seqAuto = true
		} else {
			n, err := parseUint(seqPart)
			if err != nil {
				return value.StreamID{}, rerr.Wrap(rerr.KindInvalidStreamID, "invalid stream ID specified as stream command argument", err)
			}
			seq = n
		}
	}

	if seqAuto {
		if last, ok := s.TimeMap[millis]; ok {
			seq = last + 1
		} else if millis == 0 {
			seq = 1
		} else {
			seq = 0
		}
	}

	id := value.StreamID{Millis: millis, Seq: seq}
	if id.Millis == 0 && id.Seq == 0 {
		return value.StreamID{}, rerr.New(rerr.KindInvalidStreamID, "ERR The ID specified in XADD must be greater than 0-0")
	}
	if !s.LastID.IsZero() || len(s.Entries) > 0 {
		if !s.LastID.Less(id) {
			return value.StreamID{}, rerr.New(rerr.KindInvalidStreamID, "ERR The ID specified in XADD is equal or smaller than the target stream top item")
		}
	}
	return id, nil
}

func splitStreamIDArg(arg string) (millis uint64, seqPart string, err error) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '-' {
			ms, perr := parseUint(arg[:i])
			if perr != nil {
				return 0, "", rerr.Wrap(rerr.KindInvalidStreamID, "invalid stream ID specified as stream command argument", perr)
			}
			return ms, arg[i+1:], nil
		}
	}
	ms, perr := parseUint(arg)
	if perr != nil {
		return 0, "", rerr.Wrap(rerr.KindInvalidStreamID, "invalid stream ID specified as stream command argument", perr)
	}
	return ms, "*", nil
}

func parseUint(s string) (uint64, error) {
	var n uint64
	if s == "" {
		return 0, rerr.New(rerr.KindParseInt, "empty integer")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, rerr.New(rerr.KindParseInt, "not a digit")
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}
