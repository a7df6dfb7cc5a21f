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
	"context"
	"encoding/json"
	"fmt"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/protocol"
	"github.com/eminwux/peerhub/pkg/api"
)

// Call sends method to peerID and waits for the matching response. When the
// peer already has MaxConcurrent calls in flight the call waits in a FIFO
// queue. Cancelling ctx only stops the wait; the slot is released by the
// response, the deadline or a disconnect.
func (h *Hub) Call(ctx context.Context, peerID api.PeerID, method string, params any) (json.RawMessage, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errdefs.ErrShuttingDown
	}
	st, ok := h.peers[peerID]
	if !ok || st.conn == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errdefs.ErrPeerUnavailable, peerID)
	}

	h.lastID++
	pc := &pendingCall{
		id:       h.lastID,
		peerID:   peerID,
		method:   method,
		params:   params,
		resultCh: make(chan callResult, 1),
	}
	if st.active < h.opts.MaxConcurrent {
		h.dispatchLocked(st, pc)
		h.drainLocked(st)
	} else {
		st.queue = append(st.queue, pc)
		h.logger.DebugContext(h.ctx, "call queued", "peer_id", peerID, "method", method, "queued", len(st.queue))
	}
	h.mu.Unlock()

	select {
	case res := <-pc.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatchLocked takes a slot and sends the request. A send failure releases
// the slot again; the caller drains the queue afterwards.
func (h *Hub) dispatchLocked(st *peerState, pc *pendingCall) {
	frame, err := protocol.EncodeRequest(pc.id, pc.method, pc.params)
	if err != nil {
		pc.resultCh <- callResult{err: err}
		return
	}

	st.active++
	st.calls[pc.id] = pc
	id, peerID := pc.id, pc.peerID
	pc.timer = h.clk.AfterFunc(h.opts.RequestTimeout, func() { h.timeout(peerID, id) })

	if errSend := st.conn.Send(frame); errSend != nil {
		h.logger.WarnContext(h.ctx, "send failed", "peer_id", peerID, "id", id, "error", errSend)
		h.completeLocked(st, id, callResult{err: fmt.Errorf("%w: %w", errdefs.ErrPeerDisconnected, errSend)})
		return
	}
	h.logger.DebugContext(h.ctx, "call sent", "peer_id", peerID, "id", id, "method", pc.method)
}

func (h *Hub) drainLocked(st *peerState) {
	for st.conn != nil && st.active < h.opts.MaxConcurrent && len(st.queue) > 0 {
		next := st.queue[0]
		st.queue[0] = nil
		st.queue = st.queue[1:]
		h.dispatchLocked(st, next)
	}
	if len(st.queue) == 0 {
		st.queue = nil
	}
}

// completeLocked settles an in-flight call exactly once.
func (h *Hub) completeLocked(st *peerState, id uint64, res callResult) bool {
	pc, ok := st.calls[id]
	if !ok {
		return false
	}
	delete(st.calls, id)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	st.active--
	pc.resultCh <- res
	return true
}

// HandleResponse settles the call with the response id. Unknown ids are
// logged and dropped.
func (h *Hub) HandleResponse(conn Conn, resp *protocol.Response) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peerID, st, ok := h.currentLocked(conn)
	if !ok {
		h.logger.DebugContext(h.ctx, "response from unregistered connection", "id", resp.ID, "remote", conn.RemoteAddr())
		return
	}
	st.info.LastSeen = h.clk.Now()

	res := callResult{result: resp.Result}
	if resp.Error != nil {
		res = callResult{err: resp.Error}
	}
	if !h.completeLocked(st, resp.ID, res) {
		h.logger.DebugContext(h.ctx, "response for unknown call", "peer_id", peerID, "id", resp.ID)
		return
	}
	h.drainLocked(st)
}

func (h *Hub) timeout(peerID api.PeerID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.peers[peerID]
	if !ok {
		return
	}
	err := fmt.Errorf("%w: call %d to %s", errdefs.ErrRequestTimeout, id, peerID)
	if h.completeLocked(st, id, callResult{err: err}) {
		h.logger.WarnContext(h.ctx, "call timed out", "peer_id", peerID, "id", id)
		h.drainLocked(st)
	}
}

// rejectAllLocked fails every in-flight and queued call of the peer.
func (h *Hub) rejectAllLocked(st *peerState, err error) {
	for id := range st.calls {
		h.completeLocked(st, id, callResult{err: err})
	}
	for _, pc := range st.queue {
		pc.resultCh <- callResult{err: err}
	}
	st.queue = nil
}

// Close rejects every outstanding call with ErrShuttingDown and then closes
// all peer connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true

	var conns []Conn
	for id, st := range h.peers {
		h.rejectAllLocked(st, errdefs.ErrShuttingDown)
		if st.grace != nil {
			st.grace.Stop()
			st.grace = nil
		}
		if st.conn != nil {
			conns = append(conns, st.conn)
		}
		delete(h.peers, id)
	}
	h.byConn = make(map[Conn]api.PeerID)
	h.mu.Unlock()

	h.logger.InfoContext(h.ctx, "hub closing", "connections", len(conns))
	for _, c := range conns {
		_ = c.Close(CloseGoingAway, "shutting down")
	}
	close(h.doneCh)
	return nil
}
