// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches each record to two
// handlers. Used by NewConnectionLogger to write simultaneously to the
// global handler and a connection's dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Each handler's own Enabled() is checked before dispatch, so a DEBUG
	// record isn't sent to a primary handler configured for INFO only.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the connection log must not suppress the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewConnectionLogger builds a logger that writes both to the base (global)
// logger and to a file dedicated to one connection, at:
//
//	{connLogDir}/{peerKind}/{connID}.log
//
// peerKind distinguishes the log subdirectory by role — "client",
// "replica" — so a replica's handshake and applied-command trail doesn't
// mix with ordinary client session logs. Returns the enriched logger, an
// io.Closer that must be called (defer) when the connection ends, and the
// created file's path (joined onto connLogDir, so relative if it is).
//
// An empty connLogDir returns the base logger unmodified (no-op), which is
// the default — per-connection log files are an opt-in debugging aid.
func NewConnectionLogger(baseLogger *slog.Logger, connLogDir, peerKind, connID string) (*slog.Logger, io.Closer, string, error) {
	if connLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	dir := filepath.Join(connLogDir, peerKind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating connection log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, connID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening connection log file %s: %w", logPath, err)
	}

	// The connection's own file always runs at DEBUG for maximum capture.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveConnectionLog deletes a finished connection's log file. No-op if
// connLogDir is empty or the file doesn't exist.
func RemoveConnectionLog(connLogDir, peerKind, connID string) {
	if connLogDir == "" {
		return
	}
	logPath := filepath.Join(connLogDir, peerKind, connID+".log")
	os.Remove(logPath)
}
