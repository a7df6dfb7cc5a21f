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

// Package hub owns peer registrations and the RPC calls issued to them.
//
// One mutex guards the registry, the pending tables and the queues.
// Registration, queue draining and rejection on disconnect all happen under
// it, so a peer's active-call count can be checked and changed atomically.
// Conn.Send must not block; hub events are queued under the lock and handed
// to Events() by a separate goroutine in the order they were produced.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/eminwux/peerhub/internal/clock"
	"github.com/eminwux/peerhub/pkg/api"
)

const (
	DefaultMaxConcurrent  = 10
	DefaultRequestTimeout = 30 * time.Second
	DefaultReconnectGrace = 1500 * time.Millisecond
	DefaultStaleSweep     = 30 * time.Second

	eventsBuffer = 64
)

type Options struct {
	// AuthToken is the shared secret peers must present; empty disables auth.
	AuthToken      string
	MaxConcurrent  int
	RequestTimeout time.Duration
	ReconnectGrace time.Duration
	// StaleSweep is how long a peer restored from the cache may stay pending
	// before it is dropped.
	StaleSweep time.Duration
	Clock      clock.Clock
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = DefaultMaxConcurrent
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.ReconnectGrace <= 0 {
		out.ReconnectGrace = DefaultReconnectGrace
	}
	if out.StaleSweep <= 0 {
		out.StaleSweep = DefaultStaleSweep
	}
	if out.Clock == nil {
		out.Clock = clock.Real()
	}
	return out
}

type Hub struct {
	ctx    context.Context
	logger *slog.Logger
	opts   Options
	clk    clock.Clock

	mu      sync.Mutex
	peers   map[api.PeerID]*peerState
	byConn  map[Conn]api.PeerID
	lastID  uint64
	closed  bool
	pending []api.HubEvent

	eventsWake chan struct{}
	eventsCh   chan api.HubEvent
	doneCh     chan struct{}
}

type peerState struct {
	info       api.Peer
	conn       Conn
	active     int
	calls      map[uint64]*pendingCall
	queue      []*pendingCall
	grace      *clock.Timer
	generation uint64
}

type pendingCall struct {
	id       uint64
	peerID   api.PeerID
	method   string
	params   any
	timer    *clock.Timer
	resultCh chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

var _ api.HubController = (*Hub)(nil)

func New(ctx context.Context, logger *slog.Logger, opts Options) *Hub {
	o := opts.withDefaults()
	h := &Hub{
		ctx:        ctx,
		logger:     logger,
		opts:       o,
		clk:        o.Clock,
		peers:      make(map[api.PeerID]*peerState),
		byConn:     make(map[Conn]api.PeerID),
		eventsWake: make(chan struct{}, 1),
		eventsCh:   make(chan api.HubEvent, eventsBuffer),
		doneCh:     make(chan struct{}),
	}
	go h.pumpEvents()
	return h
}

// Events is closed once the hub is closed.
func (h *Hub) Events() <-chan api.HubEvent {
	return h.eventsCh
}

func (h *Hub) emitLocked(ev api.HubEvent) {
	ev.When = h.clk.Now()
	h.pending = append(h.pending, ev)
	select {
	case h.eventsWake <- struct{}{}:
	default:
	}
}

func (h *Hub) pumpEvents() {
	defer close(h.eventsCh)
	for {
		select {
		case <-h.doneCh:
			return
		case <-h.eventsWake:
		}

		h.mu.Lock()
		batch := h.pending
		h.pending = nil
		h.mu.Unlock()

		for _, ev := range batch {
			select {
			case h.eventsCh <- ev:
			case <-h.doneCh:
				return
			}
		}
	}
}

// Peers returns a snapshot of every registered peer ordered by id.
func (h *Hub) Peers() []api.Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]api.Peer, 0, len(h.peers))
	for _, st := range h.peers {
		out = append(out, st.info)
	}
	sortPeers(out)
	return out
}

func (h *Hub) Stats(peerID api.PeerID) (api.CallStats, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.peers[peerID]
	if !ok {
		return api.CallStats{}, false
	}
	return api.CallStats{Active: st.active, Queued: len(st.queue)}, true
}
