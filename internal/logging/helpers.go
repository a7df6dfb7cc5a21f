// Copyright 2025 Emiliano Spinella (eminwux)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/spf13/cobra"
)

func ParseLevel(lvl string) slog.Level {
	switch lvl {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		// default if unknown
		return slog.LevelInfo
	}
}

// SetupLogger installs a ReformatHandler on logfile, or on stderr when
// logfile is empty, and stores the logger, its level var and the handler in
// the command context.
func SetupLogger(cmd *cobra.Command, logfile string, loglevel string) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", errdefs.ErrConfig)
	}

	var w io.Writer = os.Stderr
	if logfile != "" {
		if err := os.MkdirAll(filepath.Dir(logfile), 0o700); err != nil {
			return fmt.Errorf("%w: create log directory: %w", errdefs.ErrConfig, err)
		}
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("%w: open log file: %w", errdefs.ErrConfig, err)
		}
		w = f
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(loglevel))

	handler := NewReformatHandler(w, levelVar)
	logger := slog.New(handler)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, CtxLogger, logger)
	ctx = context.WithValue(ctx, CtxLevelVar, levelVar)
	ctx = context.WithValue(ctx, CtxHandler, handler)
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		ctx = context.WithValue(ctx, CtxCloser, c)
	}

	cmd.SetContext(ctx)
	return nil
}

func FromContext(ctx context.Context) (*slog.Logger, error) {
	logger, ok := ctx.Value(CtxLogger).(*slog.Logger)
	if !ok || logger == nil {
		return nil, errdefs.ErrLoggerNotFound
	}
	return logger, nil
}

func LevelVarFromContext(ctx context.Context) (*slog.LevelVar, bool) {
	lv, ok := ctx.Value(CtxLevelVar).(*slog.LevelVar)
	return lv, ok && lv != nil
}

// NewNoopLogger discards everything; tests use it.
func NewNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
