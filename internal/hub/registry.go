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

package hub

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/protocol"
	"github.com/eminwux/peerhub/pkg/api"
)

// Handshake registers conn under the peer id announced in hello. A later
// handshake for the same id replaces the earlier connection, whose calls are
// rejected with ErrPeerDisconnected.
func (h *Hub) Handshake(conn Conn, hello *protocol.Hello) (api.Peer, error) {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		return api.Peer{}, errdefs.ErrShuttingDown
	}
	if h.opts.AuthToken != "" &&
		subtle.ConstantTimeCompare([]byte(hello.AuthToken), []byte(h.opts.AuthToken)) != 1 {
		h.mu.Unlock()
		h.logger.WarnContext(h.ctx, "handshake rejected", "peer_id", hello.PeerID, "remote", conn.RemoteAddr())
		return api.Peer{}, errdefs.ErrAuthRejected
	}

	info := api.Peer{
		ID:               hello.PeerID,
		DisplayName:      hello.DisplayName,
		APIURL:           resolveAPIURL(hello.APIURL, conn.RemoteAddr()),
		Project:          hello.Project,
		Branch:           hello.Branch,
		WorkingDirectory: hello.WorkingDirectory,
		LastSeen:         h.clk.Now(),
		Liveness:         api.PeerConnected,
	}
	if info.DisplayName == "" {
		info.DisplayName = string(info.ID)
	}

	var replaced Conn
	st, existed := h.peers[info.ID]
	if existed {
		if st.grace != nil {
			st.grace.Stop()
			st.grace = nil
		}
		st.generation++
		if st.conn != nil && st.conn != conn {
			replaced = st.conn
			delete(h.byConn, replaced)
			h.rejectAllLocked(st, fmt.Errorf("%w: replaced by a new connection", errdefs.ErrPeerDisconnected))
		}
	} else {
		st = &peerState{calls: make(map[uint64]*pendingCall)}
		h.peers[info.ID] = st
	}
	st.info = info
	st.conn = conn
	h.byConn[conn] = info.ID

	h.emitLocked(api.HubEvent{Type: api.EvPeerConnected, PeerID: info.ID, Peer: info, Reconnected: existed})
	h.mu.Unlock()

	h.logger.InfoContext(h.ctx, "peer registered",
		"peer_id", info.ID, "display_name", info.DisplayName, "remote", conn.RemoteAddr(), "reconnected", existed)

	if replaced != nil {
		h.logger.WarnContext(h.ctx, "closing replaced connection", "peer_id", info.ID, "remote", replaced.RemoteAddr())
		_ = replaced.Close(CloseNormal, "replaced")
	}
	return info, nil
}

// Disconnect handles the loss of conn. Only the connection currently
// registered for a peer affects it; a replaced connection closing late is
// ignored.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, ok := h.byConn[conn]
	if !ok {
		return
	}
	delete(h.byConn, conn)
	st := h.peers[id]
	if st == nil || st.conn != conn || h.closed {
		return
	}

	h.rejectAllLocked(st, errdefs.ErrPeerDisconnected)
	st.conn = nil
	st.info.Liveness = api.PeerPendingReconnect
	st.info.LastSeen = h.clk.Now()
	h.startGraceLocked(id, st, h.opts.ReconnectGrace)

	h.logger.InfoContext(h.ctx, "peer disconnected", "peer_id", id, "grace", h.opts.ReconnectGrace)
	h.emitLocked(api.HubEvent{Type: api.EvPeerDisconnected, PeerID: id})
}

// Restore registers peers remembered from a previous run as pending
// reconnect. They are dropped unless they connect within the stale sweep.
func (h *Hub) Restore(peers []api.Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, p := range peers {
		if p.ID == "" {
			continue
		}
		if _, ok := h.peers[p.ID]; ok {
			continue
		}
		p.Liveness = api.PeerPendingReconnect
		st := &peerState{info: p, calls: make(map[uint64]*pendingCall)}
		h.peers[p.ID] = st
		h.startGraceLocked(p.ID, st, h.opts.StaleSweep)
		h.logger.DebugContext(h.ctx, "restored cached peer", "peer_id", p.ID)
	}
}

// Remove drops a peer immediately, skipping the grace period.
func (h *Hub) Remove(peerID api.PeerID) bool {
	h.mu.Lock()
	st, ok := h.peers[peerID]
	if !ok || h.closed {
		h.mu.Unlock()
		return false
	}
	conn := h.removeLocked(peerID, st)
	h.mu.Unlock()

	h.logger.InfoContext(h.ctx, "peer removed", "peer_id", peerID)
	if conn != nil {
		_ = conn.Close(CloseNormal, "goodbye")
	}
	return true
}

func (h *Hub) removeLocked(peerID api.PeerID, st *peerState) Conn {
	h.rejectAllLocked(st, errdefs.ErrPeerDisconnected)
	if st.grace != nil {
		st.grace.Stop()
		st.grace = nil
	}
	st.generation++
	conn := st.conn
	if conn != nil {
		delete(h.byConn, conn)
	}
	st.conn = nil
	delete(h.peers, peerID)
	h.emitLocked(api.HubEvent{Type: api.EvPeerRemoved, PeerID: peerID})
	return conn
}

// startGraceLocked restarts the peer's removal timer from zero.
func (h *Hub) startGraceLocked(peerID api.PeerID, st *peerState, d time.Duration) {
	if st.grace != nil {
		st.grace.Stop()
	}
	st.generation++
	gen := st.generation
	st.grace = h.clk.AfterFunc(d, func() { h.expire(peerID, gen) })
}

func (h *Hub) expire(peerID api.PeerID, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.peers[peerID]
	if !ok || h.closed || st.generation != gen || st.conn != nil {
		return
	}
	st.grace = nil
	h.logger.InfoContext(h.ctx, "peer did not reconnect in time", "peer_id", peerID)
	h.removeLocked(peerID, st)
}

// HandleFrame routes a decoded frame received on an already registered conn.
func (h *Hub) HandleFrame(conn Conn, frame protocol.Frame) {
	switch f := frame.(type) {
	case *protocol.Response:
		h.HandleResponse(conn, f)
	case *protocol.EventFrame:
		h.HandleEvent(conn, f.Event)
	case *protocol.Goodbye:
		if id, ok := h.peerFor(conn); ok {
			h.Remove(id)
		}
	case *protocol.Hello:
		h.logger.WarnContext(h.ctx, "ignoring repeated hello", "peer_id", f.PeerID, "remote", conn.RemoteAddr())
	default:
		h.logger.WarnContext(h.ctx, "ignoring unexpected frame", "type", fmt.Sprintf("%T", frame))
	}
}

// HandleEvent forwards a peer event, keeping the order the peer sent them in.
func (h *Hub) HandleEvent(conn Conn, ev api.PeerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, st, ok := h.currentLocked(conn)
	if !ok {
		return
	}
	st.info.LastSeen = h.clk.Now()
	if u, unknown := ev.(protocol.UnknownEvent); unknown {
		h.logger.DebugContext(h.ctx, "unknown peer event", "peer_id", id, "type", u.Type)
	}
	h.emitLocked(api.HubEvent{Type: api.EvPeerEvent, PeerID: id, Event: ev})
}

func (h *Hub) peerFor(conn Conn) (api.PeerID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, _, ok := h.currentLocked(conn)
	return id, ok
}

func (h *Hub) currentLocked(conn Conn) (api.PeerID, *peerState, bool) {
	id, ok := h.byConn[conn]
	if !ok {
		return "", nil, false
	}
	st := h.peers[id]
	if st == nil || st.conn != conn {
		return "", nil, false
	}
	return id, st, true
}
