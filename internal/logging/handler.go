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
	"strings"
	"sync"
)

const (
	CtxLogger   = CtxLoggerType("logger")
	CtxLevelVar = CtxLoggerType("logLevel")
	CtxHandler  = CtxLoggerType("textHandler")
	CtxCloser   = CtxLoggerType("closer")
)

type CtxLoggerType string

// ReformatHandler prints `ts LEVEL "msg" k=v ...` lines. Inner decides which
// levels are enabled.
type ReformatHandler struct {
	Inner  slog.Handler
	Writer io.Writer

	mu    *sync.Mutex
	attrs string
}

func NewReformatHandler(w io.Writer, level slog.Leveler) *ReformatHandler {
	return &ReformatHandler{
		Inner:  slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}),
		Writer: w,
		mu:     &sync.Mutex{},
	}
}

func (h *ReformatHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.Inner.Enabled(ctx, lvl)
}

func (h *ReformatHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format("2006-01-02T15:04:05Z07:00")
	level := strings.ToUpper(r.Level.String())

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %q%s", ts, level, r.Message, h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	if h.mu != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	_, err := io.WriteString(h.Writer, b.String())
	return err
}

func (h *ReformatHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	extra := h.attrs
	for _, a := range attrs {
		extra += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	return &ReformatHandler{Inner: h.Inner.WithAttrs(attrs), Writer: h.Writer, mu: h.mu, attrs: extra}
}

// WithGroup is accepted for interface compatibility; groups are not rendered.
func (h *ReformatHandler) WithGroup(name string) slog.Handler {
	return &ReformatHandler{Inner: h.Inner.WithGroup(name), Writer: h.Writer, mu: h.mu, attrs: h.attrs}
}
