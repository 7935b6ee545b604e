// Copyright 2025 The strex Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package log carries a [slog.Logger] with exchange-scoped attributes on a
// [context.Context]. Packages in this module log through these helpers rather
// than through [slog] directly, so per-exchange attributes follow the context.
package log

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"time"
)

type loggerKey struct{}

// WithLogger returns a context carrying the provided logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context-scoped logger, or [slog.Default] when none is attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Debug logs at [slog.LevelDebug] with the context-scoped logger.
func Debug(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at [slog.LevelInfo] with the context-scoped logger.
func Info(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at [slog.LevelWarn] with the context-scoped logger.
func Warn(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at [slog.LevelError] with the context-scoped logger, attaching err.
func Error(ctx context.Context, msg string, err error, args ...any) {
	emit(ctx, slog.LevelError, msg, slices.Concat([]any{"error", err}, args)...)
}

// emit builds the record by hand so the call site recorded is the caller of
// the exported helper, not this package.
func emit(ctx context.Context, level slog.Level, msg string, args ...any) {
	logger := FromContext(ctx)
	if !logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	// skip runtime.Callers, emit, and the exported wrapper
	runtime.Callers(3, pcs[:])

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)
	logger.Handler().Handle(ctx, record) //nolint:errcheck
}
