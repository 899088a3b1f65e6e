// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rerr defines the error-kind taxonomy the command executor and
// engines use to classify failures, mirroring the propagation policy in
// the protocol design: wire-level errors close the connection, command-level
// errors become a RESP error reply and the connection continues.
package rerr

import "fmt"

// Kind classifies a failure for the purposes of the propagation policy.
type Kind int

const (
	KindIO Kind = iota
	KindInvalidUTF8
	KindParseInt
	KindParseFloat
	KindInvalidCommand
	KindInvalidRESPFormat
	KindInvalidStreamID
	KindWrongType
	KindKeyNotFound
	KindLockPoisoned
	KindChannelSend
	KindConnectionClosed
	KindTooManyWaiters
	KindBase64Decode
	KindInvalidGeoCoordinates
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindInvalidUTF8:
		return "invalid_utf8"
	case KindParseInt:
		return "parse_int"
	case KindParseFloat:
		return "parse_float"
	case KindInvalidCommand:
		return "invalid_command"
	case KindInvalidRESPFormat:
		return "invalid_resp_format"
	case KindInvalidStreamID:
		return "invalid_stream_id"
	case KindWrongType:
		return "wrong_type"
	case KindKeyNotFound:
		return "key_not_found"
	case KindLockPoisoned:
		return "lock_poisoned"
	case KindChannelSend:
		return "channel_send"
	case KindConnectionClosed:
		return "connection_closed"
	case KindTooManyWaiters:
		return "too_many_waiters"
	case KindBase64Decode:
		return "base64_decode"
	case KindInvalidGeoCoordinates:
		return "invalid_geo_coordinates"
	default:
		return "other"
	}
}

// Error is a classified error carrying the RESP-visible message alongside
// its Kind, so callers at the connection boundary can decide whether to
// reply-and-continue or close.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ErrTooManyWaiters is the sentinel for waiter-queue saturation (spec:
// ERR_TOO_MANY_WAITERS), which both surfaces a reply and ends the in-flight
// blocking operation.
var ErrTooManyWaiters = New(KindTooManyWaiters, "ERR_TOO_MANY_WAITERS")

// ErrConnectionClosed is the sentinel for a waiter whose caller already
// disconnected; producers treat this as "caller cancelled", not an error.
var ErrConnectionClosed = New(KindConnectionClosed, "connection closed")
