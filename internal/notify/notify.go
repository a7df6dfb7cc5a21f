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

// Package notify delivers session notifications. The hub ships a logging
// sink; desktop delivery plugs in behind the same interface.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eminwux/peerhub/internal/clock"
	"github.com/eminwux/peerhub/pkg/api"
)

const DefaultBatchWindow = 500 * time.Millisecond

type Sink interface {
	Notify(ctx context.Context, n api.Notification) error
}

type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Notify(ctx context.Context, n api.Notification) error {
	s.Logger.InfoContext(ctx, "notification",
		"title", n.Title, "body", n.Body, "url", n.URL, "session", n.Key.String())
	return nil
}

// Batcher coalesces notifications arriving within one window. Several
// notifications for the same session collapse into the latest one; the rest
// are forwarded in arrival order when the window closes.
type Batcher struct {
	ctx    context.Context
	logger *slog.Logger
	next   Sink
	window time.Duration
	clk    clock.Clock

	mu      sync.Mutex
	order   []api.SessionKey
	pending map[api.SessionKey]api.Notification
	timer   *clock.Timer
}

func NewBatcher(ctx context.Context, logger *slog.Logger, next Sink, window time.Duration, clk clock.Clock) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Batcher{
		ctx:     ctx,
		logger:  logger,
		next:    next,
		window:  window,
		clk:     clk,
		pending: make(map[api.SessionKey]api.Notification),
	}
}

func (b *Batcher) Notify(_ context.Context, n api.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[n.Key]; !ok {
		b.order = append(b.order, n.Key)
	}
	b.pending[n.Key] = n
	if b.timer == nil {
		b.timer = b.clk.AfterFunc(b.window, b.Flush)
	}
	return nil
}

// Flush forwards whatever is pending right away.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := make([]api.Notification, 0, len(b.order))
	for _, k := range b.order {
		batch = append(batch, b.pending[k])
	}
	b.order = nil
	b.pending = make(map[api.SessionKey]api.Notification)
	b.mu.Unlock()

	for _, n := range batch {
		if err := b.next.Notify(b.ctx, n); err != nil {
			b.logger.WarnContext(b.ctx, "notification sink failed", "session", n.Key.String(), "error", err)
		}
	}
}
