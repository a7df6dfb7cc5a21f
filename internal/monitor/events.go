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

package monitor

import (
	"context"
	"time"

	"github.com/eminwux/peerhub/internal/protocol"
	"github.com/eminwux/peerhub/internal/status"
	"github.com/eminwux/peerhub/pkg/api"
)

/* ---------- Event handlers ---------- */

func (c *Controller) handleEvent(ev api.HubEvent) {
	switch ev.Type {
	case api.EvPeerConnected:
		c.logger.InfoContext(c.ctx, "peer connected", "peer_id", ev.PeerID, "reconnected", ev.Reconnected)
		c.store.UpsertPeer(ev.Peer)
		peer := ev.Peer
		gen := c.store.Generation(peer.ID)
		c.spawn(nil, func(ctx context.Context) {
			if err := c.syncPeer(ctx, peer, gen); err != nil {
				c.logger.WarnContext(ctx, "initial sync failed", "peer_id", peer.ID, "error", err)
			}
			c.publishState()
		})

	case api.EvPeerDisconnected:
		if p, ok := c.store.Peer(ev.PeerID); ok {
			p.Liveness = api.PeerPendingReconnect
			p.LastSeen = ev.When
			c.store.UpsertPeer(p)
		}

	case api.EvPeerRemoved:
		n := c.store.RemovePeer(ev.PeerID)
		c.logger.InfoContext(c.ctx, "peer removed", "peer_id", ev.PeerID, "sessions_dropped", n)

	case api.EvPeerEvent:
		c.handlePeerEvent(ev.PeerID, ev.Event)

	default:
		c.logger.WarnContext(c.ctx, "unknown hub event type", "type", ev.Type)
	}
	c.publishState()
}

func (c *Controller) handlePeerEvent(peerID api.PeerID, ev api.PeerEvent) {
	peer, ok := c.store.Peer(peerID)
	if !ok {
		peer = api.Peer{ID: peerID}
	}
	now := c.clk.Now()

	switch e := ev.(type) {
	case protocol.StatusChanged:
		key := c.ensureSession(peerID, e.SessionID)
		c.applyStatus(key, e.Status, now)

	case protocol.SessionCreated:
		c.store.Upsert(sessionFromInfo(&peer, e.Session))

	case protocol.SessionUpdated:
		c.store.Upsert(sessionFromInfo(&peer, e.Session))

	case protocol.SessionDeleted:
		c.store.Remove(api.SessionKey{PeerID: peerID, SessionID: e.SessionID})

	case protocol.PermissionRequired:
		key := c.ensureSession(peerID, e.SessionID)
		var tr status.Transition
		var snap api.Session
		if err := c.store.Update(key, func(s *api.Session) {
			tr = status.RequirePermission(s, now)
			snap = *s
		}); err == nil {
			c.notify(tr, &snap)
		}

	case protocol.PeerDisposed:
		n := c.store.DropSessions(peerID)
		c.logger.InfoContext(c.ctx, "peer disposed its sessions", "peer_id", peerID, "sessions_dropped", n)
		gen := c.store.Generation(peerID)
		c.spawn(nil, func(ctx context.Context) {
			if err := c.syncPeer(ctx, peer, gen); err != nil {
				c.logger.WarnContext(ctx, "resync after dispose failed", "peer_id", peerID, "error", err)
			}
			c.publishState()
		})

	case protocol.UnknownEvent:
		c.logger.DebugContext(c.ctx, "ignoring unknown peer event", "peer_id", peerID, "type", e.Type)

	default:
		c.logger.WarnContext(c.ctx, "unhandled peer event", "peer_id", peerID, "type", ev.EventType())
	}
}

// ensureSession creates a placeholder for events that arrive before the
// session was listed.
func (c *Controller) ensureSession(peerID api.PeerID, sessionID string) api.SessionKey {
	key := api.SessionKey{PeerID: peerID, SessionID: sessionID}
	if _, ok := c.store.Get(key); !ok {
		now := c.clk.Now()
		c.store.Upsert(api.Session{PeerID: peerID, ID: sessionID, CreatedAt: now, LastActivity: now})
	}
	return key
}

func (c *Controller) applyStatus(key api.SessionKey, token string, now time.Time) {
	var tr status.Transition
	var snap api.Session
	err := c.store.Update(key, func(s *api.Session) {
		_, tr = status.Apply(s, token, now)
		snap = *s
	})
	if err != nil {
		return
	}
	c.notify(tr, &snap)
}

func (c *Controller) notify(tr status.Transition, sess *api.Session) {
	if !c.opts.Notifications || tr == status.TransitionNone {
		return
	}
	peer, ok := c.store.Peer(sess.PeerID)
	var pp *api.Peer
	if ok {
		pp = &peer
	}
	n, ok := status.Notification(tr, sess, pp)
	if !ok {
		return
	}
	c.logger.DebugContext(c.ctx, "session transition", "session", sess.Key().String(), "transition", tr.String())
	if c.Sink != nil {
		if err := c.Sink.Notify(c.ctx, n); err != nil {
			c.logger.WarnContext(c.ctx, "notification failed", "session", sess.Key().String(), "error", err)
		}
	}
	if c.Publisher != nil {
		c.Publisher.Publish(TopicNotification, n)
	}
}

func sessionFromInfo(peer *api.Peer, info api.SessionInfo) api.Session {
	s := api.Session{
		PeerID:       peer.ID,
		ID:           info.ID,
		Name:         info.Title,
		ParentID:     info.ParentID,
		CreatedAt:    time.UnixMilli(info.Created),
		LastActivity: time.UnixMilli(info.Updated),
		Project:      info.Project,
		Branch:       info.Branch,
		Directory:    info.Directory,
	}
	if info.Updated == 0 {
		s.LastActivity = s.CreatedAt
	}
	if s.Project == "" {
		s.Project = peer.Project
	}
	if s.Branch == "" {
		s.Branch = peer.Branch
	}
	if s.Directory == "" {
		s.Directory = peer.WorkingDirectory
	}
	return s
}
