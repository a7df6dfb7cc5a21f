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

// Package monitor aggregates peer sessions from hub events and periodic
// polls into one eventually consistent view.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eminwux/peerhub/internal/cache"
	"github.com/eminwux/peerhub/internal/clock"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/hierarchy"
	"github.com/eminwux/peerhub/internal/monitor/sessionstore"
	"github.com/eminwux/peerhub/internal/notify"
	"github.com/eminwux/peerhub/pkg/api"
)

const (
	DefaultStatusInterval = 5 * time.Second
	DefaultDetailInterval = 10 * time.Second

	TopicState        = "state"
	TopicNotification = "notification"
)

type Options struct {
	StatusInterval time.Duration
	DetailInterval time.Duration
	Notifications  bool
	Clock          clock.Clock
}

// Publisher receives state snapshots and notifications for renderers.
type Publisher interface {
	Publish(topic string, payload any)
}

type Persister interface {
	Save(s *cache.Snapshot) error
}

/* ---------- Controller ---------- */

// Controller owns the aggregated view. Events are applied on the Run loop;
// polls run in the background and merge through the store.
type Controller struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	logger *slog.Logger
	hub    api.HubController
	opts   Options
	clk    clock.Clock

	// Optional collaborators, set before Run.
	Sink      notify.Sink
	Publisher Publisher
	Cache     Persister

	store sessionstore.SessionStore

	// collapsed is owned by the renderer; it is carried from the restored
	// cache into every save.
	collapsedMu sync.Mutex
	collapsed   []string

	ctrlReadyCh  chan struct{}
	closeReqCh   chan error
	closedCh     chan struct{}
	shuttingDown atomic.Bool

	statusBusy atomic.Bool
	detailBusy atomic.Bool
	bg         sync.WaitGroup
}

func NewController(ctx context.Context, logger *slog.Logger, hub api.HubController, opts Options) *Controller {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.DetailInterval <= 0 {
		opts.DetailInterval = DefaultDetailInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	newCtx, cancel := context.WithCancelCause(ctx)
	return &Controller{
		ctx:         newCtx,
		cancel:      cancel,
		logger:      logger,
		hub:         hub,
		opts:        opts,
		clk:         opts.Clock,
		store:       sessionstore.NewSessionStoreExec(),
		ctrlReadyCh: make(chan struct{}),
		closeReqCh:  make(chan error, 1),
		closedCh:    make(chan struct{}),
	}
}

func (c *Controller) WaitReady() error {
	select {
	case <-c.ctrlReadyCh:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Restore seeds the view from a cache snapshot. Restored peers start out
// pending reconnect.
func (c *Controller) Restore(snap *cache.Snapshot) {
	c.collapsedMu.Lock()
	c.collapsed = append([]string(nil), snap.CollapsedGroups...)
	c.collapsedMu.Unlock()
	for _, p := range snap.Servers {
		p.Liveness = api.PeerPendingReconnect
		c.store.UpsertPeer(p)
	}
	for _, s := range snap.Sessions {
		if _, ok := c.store.Peer(s.PeerID); ok {
			c.store.Upsert(s)
		}
	}
	c.logger.InfoContext(c.ctx, "restored cached state", "peers", len(snap.Servers), "sessions", len(snap.Sessions))
}

// Run is the main loop. It returns when the context is cancelled, Close is
// called or the hub stops delivering events.
func (c *Controller) Run() error {
	c.logger.InfoContext(c.ctx, "monitor loop started",
		"status_interval", c.opts.StatusInterval, "detail_interval", c.opts.DetailInterval)
	defer func() {
		c.cancel(errdefs.ErrCloseReq)
		c.bg.Wait()
		c.saveCache()
		close(c.closedCh)
		c.logger.InfoContext(context.Background(), "monitor loop stopped")
	}()

	statusTk := c.clk.NewTicker(c.opts.StatusInterval)
	defer statusTk.Stop()
	detailTk := c.clk.NewTicker(c.opts.DetailInterval)
	defer detailTk.Stop()

	events := c.hub.Events()
	close(c.ctrlReadyCh)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.WarnContext(c.ctx, "parent context canceled, stopping monitor")
			return fmt.Errorf("%w: %w", errdefs.ErrContextDone, context.Cause(c.ctx))

		case ev, ok := <-events:
			if !ok {
				c.logger.WarnContext(c.ctx, "hub event stream closed")
				return fmt.Errorf("%w: hub closed", errdefs.ErrServerExited)
			}
			c.logger.DebugContext(c.ctx, "received hub event",
				"event_type", ev.Type.String(), "peer_id", ev.PeerID, "event_time", ev.When.Format(time.RFC3339Nano))
			c.handleEvent(ev)

		case <-statusTk.C:
			c.spawn(&c.statusBusy, func(ctx context.Context) { c.PollStatus(ctx) })

		case <-detailTk.C:
			c.spawn(&c.detailBusy, func(ctx context.Context) { c.PollDetails(ctx) })

		case errClose := <-c.closeReqCh:
			c.logger.WarnContext(c.ctx, "close request received", "reason", errClose)
			return fmt.Errorf("%w: %w", errdefs.ErrCloseReq, errClose)
		}
	}
}

// spawn runs fn in the background unless the previous run guarded by busy
// is still going.
func (c *Controller) spawn(busy *atomic.Bool, fn func(ctx context.Context)) {
	if busy != nil && !busy.CompareAndSwap(false, true) {
		c.logger.DebugContext(c.ctx, "previous poll still running, skipping tick")
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if busy != nil {
			defer busy.Store(false)
		}
		fn(c.ctx)
	}()
}

func (c *Controller) Close(reason error) error {
	if c.shuttingDown.Swap(true) {
		c.logger.Info("shutdown sequence already in progress, ignoring duplicate request", "reason", reason)
		return nil
	}
	c.logger.Info("initiating monitor shutdown", "reason", reason)
	c.closeReqCh <- reason
	return nil
}

func (c *Controller) WaitClose() error {
	<-c.closedCh
	c.logger.Debug("monitor has fully exited")
	return nil
}

/* ---------- State ---------- */

func (c *Controller) State() api.State {
	peers := c.store.Peers()
	st := api.State{
		Timestamp: c.clk.Now(),
		Peers:     peers,
		Sessions:  c.store.All(),
		Trees:     make([]api.PeerTree, 0, len(peers)),
	}
	for _, p := range peers {
		cur, _ := c.store.Current(p.ID)
		st.Trees = append(st.Trees, api.PeerTree{
			PeerID:  p.ID,
			Current: cur,
			Nodes:   hierarchy.Build(c.store.SessionsOf(p.ID)),
		})
	}
	return st
}

func (c *Controller) publishState() {
	if c.Publisher == nil {
		return
	}
	c.Publisher.Publish(TopicState, c.State())
}

func (c *Controller) saveCache() {
	if c.Cache == nil {
		return
	}
	c.collapsedMu.Lock()
	collapsed := append([]string(nil), c.collapsed...)
	c.collapsedMu.Unlock()
	snap := &cache.Snapshot{Servers: c.store.Peers(), Sessions: c.store.All(), CollapsedGroups: collapsed}
	if err := c.Cache.Save(snap); err != nil {
		c.logger.WarnContext(c.ctx, "failed to save cache", "error", err)
	}
}
