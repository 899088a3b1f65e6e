// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package executor dispatches one parsed RESP command array against the
// engines and returns the RESP-encoded reply. It is the single place that
// knows the full command table; the engines themselves know nothing about
// RESP or sessions.
package executor

import (
	"strconv"
	"strings"
	"time"

	"github.com/nishisan-dev/kvserver/internal/rerr"
	"github.com/nishisan-dev/kvserver/internal/replication"
	"github.com/nishisan-dev/kvserver/internal/resp"
	"github.com/nishisan-dev/kvserver/internal/session"
	"github.com/nishisan-dev/kvserver/internal/store"
	"github.com/nishisan-dev/kvserver/internal/value"
)

// writeCommands is the set of commands that mutate the keyspace and must be
// fanned out to replicas when this instance is a leader.
var writeCommands = map[string]bool{
	"SET": true, "DEL": true, "RPUSH": true, "LPUSH": true, "LPOP": true,
	"XADD": true, "INCR": true, "INCRBY": true, "ZADD": true, "ZREM": true,
	"GEOADD": true,
}

// Result is what one command dispatch produces: the RESP reply to write
// (nil if nothing should be written, e.g. PSYNC's handshake writes its own
// framing), plus any session-mode transition the caller's connection loop
// must act on.
type Result struct {
	Reply         []byte
	BecomeReplica bool
	FullResync    []byte // leader's "+FULLRESYNC ...\r\n" + RDB bulk header+payload, pre-encoded
}

// Engines bundles the four independent key-space stores one Executor
// dispatches against.
type Engines struct {
	Map    *store.MapStore
	List   *store.ListStore
	ZSet   *store.ZSetStore
	PubSub *store.PubSub
}

// Executor ties the engines, the replication coordinator, and the server's
// leader/follower role together for command dispatch.
type Executor struct {
	Engines     *Engines
	Coordinator *replication.Coordinator
	IsLeader    bool
	ReplID      string
}

func New(engines *Engines, coord *replication.Coordinator, replID string, isLeader bool) *Executor {
	return &Executor{Engines: engines, Coordinator: coord, ReplID: replID, IsLeader: isLeader}
}

// Execute dispatches one command for sess.
func (e *Executor) Execute(sess *session.Session, args []string) Result {
	return e.execute(sess, args, true)
}

// execute is Execute's implementation, with allowPropagate=false used by
// cmdExec to replay a MULTI-queued command locally without propagating it:
// a command queued inside MULTI is never fanned out at queue time (it's
// only appended to the session's queue), so the only place propagation
// could happen is this replay — and the executor must not propagate a
// MULTI-queue replay of an already-queued command (see the reply-
// suppression/propagation rule for EXEC).
func (e *Executor) execute(sess *session.Session, args []string, allowPropagate bool) Result {
	if len(args) == 0 {
		return Result{Reply: resp.NullArray()}
	}
	name := strings.ToUpper(args[0])

	if sess.Mode == session.ModeSubscriber && name != "SUBSCRIBE" && name != "UNSUBSCRIBE" && name != "PING" {
		return errResult("ERR Can't execute '" + strings.ToLower(args[0]) + "' in subscribed mode")
	}

	if sess.InMulti && name != "EXEC" && name != "DISCARD" && name != "MULTI" {
		sess.Enqueue(args)
		return Result{Reply: resp.EncodeSimpleString("QUEUED")}
	}

	result := e.dispatch(sess, name, args)

	if allowPropagate && e.IsLeader && writeCommands[name] {
		e.Coordinator.Propagate(args)
	}
	return result
}

func (e *Executor) dispatch(sess *session.Session, name string, args []string) Result {
	switch name {
	case "PING":
		return Result{Reply: resp.EncodeSimpleString("PONG")}
	case "ECHO":
		if len(args) < 2 {
			return errResult("ERR wrong number of arguments for 'echo' command")
		}
		return Result{Reply: resp.EncodeBulkString([]byte(args[1]))}

	case "SET":
		return e.cmdSet(args)
	case "GET":
		return e.cmdGet(args)
	case "DEL":
		return e.cmdDel(args)
	case "EXISTS":
		return e.cmdExists(args)
	case "TYPE":
		return e.cmdType(args)
	case "TTL":
		return e.cmdTTL(args, time.Second)
	case "PTTL":
		return e.cmdTTL(args, time.Millisecond)
	case "INCR":
		return e.cmdIncr(args, 1)
	case "INCRBY":
		return e.cmdIncrBy(args)

	case "RPUSH":
		return e.cmdPush(args, e.Engines.List.RPush)
	case "LPUSH":
		return e.cmdPush(args, e.Engines.List.LPush)
	case "LLEN":
		return e.cmdLLen(args)
	case "LPOP":
		return e.cmdLPop(args)
	case "LRANGE":
		return e.cmdLRange(args)
	case "BLPOP":
		return e.cmdBLPop(args)

	case "ZADD":
		return e.cmdZAdd(args)
	case "ZSCORE":
		return e.cmdZScore(args)
	case "ZRANK":
		return e.cmdZRank(args)
	case "ZCARD":
		return e.cmdZCard(args)
	case "ZREM":
		return e.cmdZRem(args)
	case "ZRANGE":
		return e.cmdZRange(args)

	case "GEOADD":
		return e.cmdGeoAdd(args)
	case "GEOPOS":
		return e.cmdGeoPos(args)
	case "GEODIST":
		return e.cmdGeoDist(args)
	case "GEOSEARCH":
		return e.cmdGeoSearch(args)

	case "XADD":
		return e.cmdXAdd(args)
	case "XRANGE":
		return e.cmdXRange(args)
	case "XREAD":
		return e.cmdXRead(args)

	case "SUBSCRIBE":
		return e.cmdSubscribe(sess, args)
	case "UNSUBSCRIBE":
		return e.cmdUnsubscribe(sess, args)
	case "PUBLISH":
		return e.cmdPublish(args)

	case "MULTI":
		if !sess.BeginMulti() {
			return errResult("ERR MULTI calls can not be nested")
		}
		return Result{Reply: resp.EncodeSimpleString("OK")}
	case "DISCARD":
		if !sess.Discard() {
			return errResult("ERR DISCARD without MULTI")
		}
		return Result{Reply: resp.EncodeSimpleString("OK")}
	case "EXEC":
		return e.cmdExec(sess)

	case "REPLCONF":
		return e.cmdReplconf(sess, args)
	case "PSYNC":
		return e.cmdPsync()
	case "WAIT":
		return e.cmdWait(args)
	case "INFO":
		return e.cmdInfo()

	default:
		return Result{Reply: resp.NullBulkString()}
	}
}

func errResult(msg string) Result {
	return Result{Reply: resp.EncodeError(msg)}
}

func wrongType() Result {
	return errResult("WRONGTYPE Operation against a key holding the wrong kind of value")
}

// --- String/map commands ---

func (e *Executor) cmdSet(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'set' command")
	}
	key, val := args[1], args[2]
	var deadline time.Time
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "EX":
			if i+1 >= len(args) {
				return errResult("ERR syntax error")
			}
			secs, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return errResult("ERR value is not an integer or out of range")
			}
			deadline = time.Now().Add(time.Duration(secs) * time.Second)
			i++
		case "PX":
			if i+1 >= len(args) {
				return errResult("ERR syntax error")
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return errResult("ERR value is not an integer or out of range")
			}
			deadline = time.Now().Add(time.Duration(ms) * time.Millisecond)
			i++
		}
	}
	e.Engines.Map.Set(key, []byte(val), deadline)
	return Result{Reply: resp.EncodeSimpleString("OK")}
}

func (e *Executor) cmdGet(args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'get' command")
	}
	b, ok := e.Engines.Map.Get(args[1])
	if !ok {
		return Result{Reply: resp.NullBulkString()}
	}
	return Result{Reply: resp.EncodeBulkString(b)}
}

func (e *Executor) cmdDel(args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'del' command")
	}
	n := int64(0)
	for _, k := range args[1:] {
		if e.Engines.Map.Del(k) {
			n++
		}
	}
	return Result{Reply: resp.EncodeInteger(n)}
}

func (e *Executor) cmdExists(args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'exists' command")
	}
	n := int64(0)
	for _, k := range args[1:] {
		if e.Engines.Map.Exists(k) {
			n++
		}
	}
	return Result{Reply: resp.EncodeInteger(n)}
}

func (e *Executor) cmdType(args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'type' command")
	}
	return Result{Reply: resp.EncodeSimpleString(e.Engines.Map.Type(args[1]))}
}

func (e *Executor) cmdTTL(args []string, unit time.Duration) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments")
	}
	ms := e.Engines.Map.TTLMillis(args[1])
	if ms < 0 {
		return Result{Reply: resp.EncodeInteger(ms)}
	}
	if unit == time.Second {
		return Result{Reply: resp.EncodeInteger(ms / 1000)}
	}
	return Result{Reply: resp.EncodeInteger(ms)}
}

func (e *Executor) cmdIncr(args []string, delta int64) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'incr' command")
	}
	n, err := e.Engines.Map.Incr(args[1], delta)
	if err != nil {
		return errResult(rerrMessage(err))
	}
	return Result{Reply: resp.EncodeInteger(n)}
}

func (e *Executor) cmdIncrBy(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'incrby' command")
	}
	delta, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return errResult("ERR value is not an integer or out of range")
	}
	return e.cmdIncr(args[:2], delta)
}

func rerrMessage(err error) string {
	if rerrErr, ok := err.(*rerr.Error); ok {
		if rerrErr.Kind == rerr.KindWrongType && !strings.HasPrefix(rerrErr.Msg, "WRONGTYPE") {
			return "WRONGTYPE " + rerrErr.Msg
		}
		return rerrErr.Msg
	}
	return err.Error()
}

// --- List commands ---

func (e *Executor) cmdPush(args []string, push func(string, [][]byte) int) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments")
	}
	values := make([][]byte, 0, len(args)-2)
	for _, v := range args[2:] {
		values = append(values, []byte(v))
	}
	n := push(args[1], values)
	return Result{Reply: resp.EncodeInteger(int64(n))}
}

func (e *Executor) cmdLLen(args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'llen' command")
	}
	return Result{Reply: resp.EncodeInteger(int64(e.Engines.List.LLen(args[1])))}
}

func (e *Executor) cmdLPop(args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'lpop' command")
	}
	count := -1
	if len(args) >= 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return errResult("ERR value is not an integer or out of range")
		}
		count = n
	}
	popped, ok := e.Engines.List.LPop(args[1], count)
	if !ok {
		if count < 0 {
			return Result{Reply: resp.NullBulkString()}
		}
		return Result{Reply: resp.NullArray()}
	}
	if count < 0 {
		return Result{Reply: resp.EncodeBulkString(popped[0])}
	}
	elements := make([][]byte, len(popped))
	for i, v := range popped {
		elements[i] = resp.EncodeBulkString(v)
	}
	return Result{Reply: resp.EncodeArray(elements...)}
}

func (e *Executor) cmdLRange(args []string) Result {
	if len(args) < 4 {
		return errResult("ERR wrong number of arguments for 'lrange' command")
	}
	start, err1 := strconv.ParseInt(args[2], 10, 64)
	stop, err2 := strconv.ParseInt(args[3], 10, 64)
	if err1 != nil || err2 != nil {
		return errResult("ERR value is not an integer or out of range")
	}
	items := e.Engines.List.LRange(args[1], start, stop)
	return Result{Reply: resp.EncodeArray(bulkStrings(items)...)}
}

func bulkStrings(items [][]byte) [][]byte {
	out := make([][]byte, len(items))
	for i, v := range items {
		out[i] = resp.EncodeBulkString(v)
	}
	return out
}

func (e *Executor) cmdBLPop(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'blpop' command")
	}
	timeout, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil {
		return errResult("ERR timeout is not a float or out of range")
	}
	for _, key := range args[1 : len(args)-1] {
		if popped, ok := e.Engines.List.LPop(key, -1); ok {
			return Result{Reply: resp.EncodeArray(resp.EncodeBulkString([]byte(key)), resp.EncodeBulkString(popped[0]))}
		}
	}
	// None of the named keys had anything ready; block on the first key
	// named, matching the original's single-key wait.
	d, ok, err := e.Engines.List.BLPop(args[1], timeout)
	if err != nil {
		return errResult(rerrMessage(err))
	}
	if !ok {
		return Result{Reply: resp.NullArray()}
	}
	return Result{Reply: resp.EncodeArray(resp.EncodeBulkString([]byte(d.Key)), resp.EncodeBulkString(d.Value))}
}

// --- Sorted set / geo commands ---

func (e *Executor) cmdZAdd(args []string) Result {
	if len(args) < 4 || len(args)%2 != 0 {
		return errResult("ERR wrong number of arguments for 'zadd' command")
	}
	pairs := make([]struct {
		Member string
		Score  float64
	}, 0, (len(args)-2)/2)
	for i := 2; i+1 < len(args); i += 2 {
		score, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return errResult("ERR value is not a valid float")
		}
		pairs = append(pairs, struct {
			Member string
			Score  float64
		}{Member: args[i+1], Score: score})
	}
	n := e.Engines.ZSet.ZAdd(args[1], pairs)
	return Result{Reply: resp.EncodeInteger(int64(n))}
}

func (e *Executor) cmdZScore(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'zscore' command")
	}
	sc, ok := e.Engines.ZSet.ZScore(args[1], args[2])
	if !ok {
		return Result{Reply: resp.NullBulkString()}
	}
	return Result{Reply: resp.EncodeBulkString([]byte(formatFloat(sc)))}
}

func (e *Executor) cmdZRank(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'zrank' command")
	}
	rank, ok := e.Engines.ZSet.ZRank(args[1], args[2])
	if !ok {
		return Result{Reply: resp.NullBulkString()}
	}
	return Result{Reply: resp.EncodeInteger(int64(rank))}
}

func (e *Executor) cmdZCard(args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'zcard' command")
	}
	return Result{Reply: resp.EncodeInteger(int64(e.Engines.ZSet.ZCard(args[1])))}
}

func (e *Executor) cmdZRem(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'zrem' command")
	}
	n := int64(0)
	for _, m := range args[2:] {
		if e.Engines.ZSet.ZRem(args[1], m) {
			n++
		}
	}
	return Result{Reply: resp.EncodeInteger(n)}
}

func (e *Executor) cmdZRange(args []string) Result {
	if len(args) < 4 {
		return errResult("ERR wrong number of arguments for 'zrange' command")
	}
	start, err1 := strconv.ParseInt(args[2], 10, 64)
	stop, err2 := strconv.ParseInt(args[3], 10, 64)
	if err1 != nil || err2 != nil {
		return errResult("ERR value is not an integer or out of range")
	}
	members := e.Engines.ZSet.ZRange(args[1], start, stop)
	elements := make([][]byte, len(members))
	for i, m := range members {
		elements[i] = resp.EncodeBulkString([]byte(m))
	}
	return Result{Reply: resp.EncodeArray(elements...)}
}

func (e *Executor) cmdGeoAdd(args []string) Result {
	if len(args) < 5 || (len(args)-2)%3 != 0 {
		return errResult("ERR wrong number of arguments for 'geoadd' command")
	}
	n := 0
	for i := 2; i+2 < len(args); i += 3 {
		lon, err1 := strconv.ParseFloat(args[i], 64)
		lat, err2 := strconv.ParseFloat(args[i+1], 64)
		if err1 != nil || err2 != nil {
			return errResult("ERR value is not a valid float")
		}
		added, err := e.Engines.ZSet.GeoAdd(args[1], args[i+2], lon, lat)
		if err != nil {
			return errResult(rerrMessage(err))
		}
		n += added
	}
	return Result{Reply: resp.EncodeInteger(int64(n))}
}

func (e *Executor) cmdGeoPos(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'geopos' command")
	}
	elements := make([][]byte, 0, len(args)-2)
	for _, member := range args[2:] {
		lon, lat, ok := e.Engines.ZSet.GeoPos(args[1], member)
		if !ok {
			elements = append(elements, resp.NullArray())
			continue
		}
		elements = append(elements, resp.EncodeArray(
			resp.EncodeBulkString([]byte(formatFloat(lon))),
			resp.EncodeBulkString([]byte(formatFloat(lat))),
		))
	}
	return Result{Reply: resp.EncodeArray(elements...)}
}

func (e *Executor) cmdGeoDist(args []string) Result {
	if len(args) < 4 {
		return errResult("ERR wrong number of arguments for 'geodist' command")
	}
	d, ok := e.Engines.ZSet.GeoDist(args[1], args[2], args[3])
	if !ok {
		return Result{Reply: resp.NullBulkString()}
	}
	return Result{Reply: resp.EncodeBulkString([]byte(formatFloat(d)))}
}

func (e *Executor) cmdGeoSearch(args []string) Result {
	// GEOSEARCH key FROMLONLAT lon lat BYRADIUS radius m
	if len(args) < 8 {
		return errResult("ERR wrong number of arguments for 'geosearch' command")
	}
	lon, err1 := strconv.ParseFloat(args[3], 64)
	lat, err2 := strconv.ParseFloat(args[4], 64)
	radius, err3 := strconv.ParseFloat(args[6], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return errResult("ERR value is not a valid float")
	}
	results := e.Engines.ZSet.GeoSearch(args[1], lon, lat, radius)
	elements := make([][]byte, len(results))
	for i, r := range results {
		elements[i] = resp.EncodeBulkString([]byte(r.Member))
	}
	return Result{Reply: resp.EncodeArray(elements...)}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// --- Stream commands ---

func (e *Executor) cmdXAdd(args []string) Result {
	if len(args) < 5 || len(args)%2 != 1 {
		return errResult("ERR wrong number of arguments for 'xadd' command")
	}
	id, err := e.Engines.Map.XAdd(args[1], args[2], args[3:])
	if err != nil {
		return errResult(rerrMessage(err))
	}
	return Result{Reply: resp.EncodeBulkString([]byte(id.String()))}
}

func (e *Executor) cmdXRange(args []string) Result {
	if len(args) < 4 {
		return errResult("ERR wrong number of arguments for 'xrange' command")
	}
	start, err := parseRangeID(args[2], value.StreamID{})
	if err != nil {
		return errResult(err.Error())
	}
	stop, err := parseRangeID(args[3], value.MaxStreamID)
	if err != nil {
		return errResult(err.Error())
	}
	entries, xerr := e.Engines.Map.XRange(args[1], start, stop)
	if xerr != nil {
		return errResult(rerrMessage(xerr))
	}
	return Result{Reply: encodeStreamEntries(entries)}
}

func parseRangeID(arg string, sentinel value.StreamID) (value.StreamID, error) {
	if arg == "-" || arg == "+" {
		return sentinel, nil
	}
	return parseStreamID(arg)
}

func parseStreamID(arg string) (value.StreamID, error) {
	parts := strings.SplitN(arg, "-", 2)
	millis, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return value.StreamID{}, rerr.Wrap(rerr.KindInvalidStreamID, "ERR Invalid stream ID specified as stream command argument", err)
	}
	if len(parts) == 1 {
		return value.StreamID{Millis: millis}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return value.StreamID{}, rerr.Wrap(rerr.KindInvalidStreamID, "ERR Invalid stream ID specified as stream command argument", err)
	}
	return value.StreamID{Millis: millis, Seq: seq}, nil
}

func encodeStreamEntries(entries []value.StreamEntry) []byte {
	elements := make([][]byte, len(entries))
	for i, e := range entries {
		elements[i] = resp.EncodeArray(
			resp.EncodeBulkString([]byte(e.ID.String())),
			resp.EncodeArray(bulkStringsFromStrings(e.Fields)...),
		)
	}
	return resp.EncodeArray(elements...)
}

func bulkStringsFromStrings(items []string) [][]byte {
	out := make([][]byte, len(items))
	for i, s := range items {
		out[i] = resp.EncodeBulkString([]byte(s))
	}
	return out
}

// cmdXRead handles "XREAD [BLOCK ms] STREAMS key [key ...] id [id ...]".
func (e *Executor) cmdXRead(args []string) Result {
	i := 1
	blockMillis := int64(-1)
	if i < len(args) && strings.EqualFold(args[i], "BLOCK") {
		ms, err := strconv.ParseInt(args[i+1], 10, 64)
		if err != nil {
			return errResult("ERR timeout is not an integer or out of range")
		}
		blockMillis = ms
		i += 2
	}
	if i >= len(args) || !strings.EqualFold(args[i], "STREAMS") {
		return errResult("ERR syntax error")
	}
	i++
	rest := args[i:]
	if len(rest)%2 != 0 {
		return errResult("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(rest) / 2
	keys := rest[:n]
	ids := rest[n:]

	entriesByKey := make([][]value.StreamEntry, n)
	anyFound := false
	for idx, key := range keys {
		after, err := parseStreamID(ids[idx])
		if err != nil {
			return errResult(err.Error())
		}
		entries, xerr := e.Engines.Map.XReadImmediate(key, after)
		if xerr != nil {
			return errResult(rerrMessage(xerr))
		}
		entriesByKey[idx] = entries
		if len(entries) > 0 {
			anyFound = true
		}
	}

	if !anyFound && blockMillis >= 0 {
		after, _ := parseStreamID(ids[0])
		timeoutSecs := float64(blockMillis) / 1000.0
		entries, ok, err := e.Engines.Map.XReadBlock(keys[0], after, timeoutSecs)
		if err != nil {
			return errResult(rerrMessage(err))
		}
		if !ok {
			return Result{Reply: resp.NullArray()}
		}
		entriesByKey[0] = entries
		anyFound = true
	}

	if !anyFound {
		return Result{Reply: resp.NullArray()}
	}

	var streamReplies [][]byte
	for idx, key := range keys {
		if len(entriesByKey[idx]) == 0 {
			continue
		}
		streamReplies = append(streamReplies, resp.EncodeArray(
			resp.EncodeBulkString([]byte(key)),
			encodeStreamEntries(entriesByKey[idx]),
		))
	}
	return Result{Reply: resp.EncodeArray(streamReplies...)}
}

// --- Pub/Sub commands ---

func (e *Executor) cmdSubscribe(sess *session.Session, args []string) Result {
	if len(args) < 2 {
		return errResult("ERR wrong number of arguments for 'subscribe' command")
	}
	var replies [][]byte
	for _, channel := range args[1:] {
		sub, count := e.Engines.PubSub.Subscribe(sess.ID, channel)
		sess.SetSubscriber(sub)
		count = sess.JoinChannel(channel, count)
		replies = append(replies, resp.EncodeArray(
			resp.EncodeBulkString([]byte("subscribe")),
			resp.EncodeBulkString([]byte(channel)),
			resp.EncodeInteger(int64(count)),
		))
	}
	return Result{Reply: joinReplies(replies)}
}

func (e *Executor) cmdUnsubscribe(sess *session.Session, args []string) Result {
	channels := args[1:]
	if len(channels) == 0 {
		for ch := range sess.Channels {
			channels = append(channels, ch)
		}
	}
	var replies [][]byte
	for _, channel := range channels {
		count := e.Engines.PubSub.Unsubscribe(sess.ID, channel)
		count = sess.LeaveChannel(channel, count)
		replies = append(replies, resp.EncodeArray(
			resp.EncodeBulkString([]byte("unsubscribe")),
			resp.EncodeBulkString([]byte(channel)),
			resp.EncodeInteger(int64(count)),
		))
	}
	return Result{Reply: joinReplies(replies)}
}

func joinReplies(replies [][]byte) []byte {
	out := make([]byte, 0)
	for _, r := range replies {
		out = append(out, r...)
	}
	return out
}

func (e *Executor) cmdPublish(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'publish' command")
	}
	n := e.Engines.PubSub.Publish(args[1], []byte(args[2]))
	return Result{Reply: resp.EncodeInteger(int64(n))}
}

// --- Transactions ---

func (e *Executor) cmdExec(sess *session.Session) Result {
	queued, ok := sess.TakeForExec()
	if !ok {
		return errResult("ERR EXEC without MULTI")
	}
	elements := make([][]byte, len(queued))
	for i, cmd := range queued {
		elements[i] = e.execute(sess, cmd, false).Reply
	}
	return Result{Reply: resp.EncodeArray(elements...)}
}

// --- Replication control ---

func (e *Executor) cmdReplconf(sess *session.Session, args []string) Result {
	if len(args) >= 3 && strings.EqualFold(args[1], "ACK") {
		offset, err := strconv.ParseInt(args[2], 10, 64)
		if err == nil {
			e.Coordinator.UpdateAck(sess.ID, offset)
		}
		return Result{} // ACK carries no reply
	}
	return Result{Reply: resp.EncodeSimpleString("OK")}
}

func (e *Executor) cmdPsync() Result {
	header := []byte("+FULLRESYNC " + e.ReplID + " " + strconv.FormatInt(e.Coordinator.WriteOffset(), 10) + "\r\n")
	rdb := emptyRDBPayload()
	payload := append(append([]byte{}, header...), rdb...)
	return Result{BecomeReplica: true, FullResync: payload}
}

// emptyRDBPayload is the bulk-string-framed (but CRLF-less, per the RDB
// transfer quirk) empty keyspace snapshot sent after +FULLRESYNC.
func emptyRDBPayload() []byte {
	body := []byte("REDIS0011\xFF")
	header := []byte("$" + strconv.Itoa(len(body)) + "\r\n")
	return append(header, body...)
}

func (e *Executor) cmdWait(args []string) Result {
	if len(args) < 3 {
		return errResult("ERR wrong number of arguments for 'wait' command")
	}
	numReplicas, err1 := strconv.Atoi(args[1])
	timeoutMs, err2 := strconv.ParseInt(args[2], 10, 64)
	if err1 != nil || err2 != nil {
		return errResult("ERR value is not an integer or out of range")
	}
	n := e.Coordinator.Wait(numReplicas, timeoutMs)
	return Result{Reply: resp.EncodeInteger(int64(n))}
}

func (e *Executor) cmdInfo() Result {
	role := "master"
	if !e.IsLeader {
		role = "slave"
	}
	body := "# Replication\r\n" +
		"role:" + role + "\r\n" +
		"connected_slaves:" + strconv.Itoa(e.Coordinator.ReplicaCount()) + "\r\n" +
		"master_replid:" + e.ReplID + "\r\n" +
		"master_repl_offset:" + strconv.FormatInt(e.Coordinator.WriteOffset(), 10) + "\r\n"
	return Result{Reply: resp.EncodeBulkString([]byte(body))}
}
