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
	"fmt"

	"github.com/eminwux/peerhub/internal/hierarchy"
	"github.com/eminwux/peerhub/internal/protocol"
	"github.com/eminwux/peerhub/pkg/api"
	"golang.org/x/sync/errgroup"
)

// detailFetchLimit caps concurrent message fetches per peer below the hub
// ceiling so status polls still find free slots.
const detailFetchLimit = 4

func (c *Controller) connectedPeers() []api.Peer {
	var out []api.Peer
	for _, p := range c.hub.Peers() {
		if p.Liveness == api.PeerConnected {
			out = append(out, p)
		}
	}
	return out
}

// PollStatus lists sessions and statuses on every connected peer in
// parallel. A peer whose poll fails keeps its previous state. Generations
// are read before the hub so a removal handled meanwhile wins.
func (c *Controller) PollStatus(ctx context.Context) {
	gens := c.store.Generations()
	peers := c.connectedPeers()
	var g errgroup.Group
	for _, p := range peers {
		gen := gens[p.ID]
		if !c.store.RefreshPeer(p, gen) {
			c.logger.DebugContext(ctx, "peer removed before poll", "peer_id", p.ID)
			continue
		}
		g.Go(func() error {
			if err := c.syncPeer(ctx, p, gen); err != nil {
				c.logger.WarnContext(ctx, "status poll failed", "peer_id", p.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	c.publishState()
}

// syncPeer fetches the listing and the status map together and merges them
// only when both succeed and the peer was not removed since gen was read.
func (c *Controller) syncPeer(ctx context.Context, peer api.Peer, gen uint64) error {
	var infos []api.SessionInfo
	var statuses api.StatusMap

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := c.hub.Call(gctx, peer.ID, api.MethodSessionList, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", api.MethodSessionList, err)
		}
		return protocol.DecodeResult(raw, &infos)
	})
	g.Go(func() error {
		raw, err := c.hub.Call(gctx, peer.ID, api.MethodSessionStatus, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", api.MethodSessionStatus, err)
		}
		return protocol.DecodeResult(raw, &statuses)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return c.mergeListing(peer, gen, infos, statuses)
}

// mergeListing treats the listing as authoritative for which sessions exist.
func (c *Controller) mergeListing(peer api.Peer, gen uint64, infos []api.SessionInfo, statuses api.StatusMap) error {
	now := c.clk.Now()
	listed := make([]api.Session, 0, len(infos))
	for _, info := range infos {
		if info.ID == "" {
			continue
		}
		listed = append(listed, sessionFromInfo(&peer, info))
	}
	dropped, err := c.store.MergeListing(peer.ID, gen, listed)
	if err != nil {
		return fmt.Errorf("discarding listing: %w", err)
	}
	if len(dropped) > 0 {
		c.logger.DebugContext(c.ctx, "sessions no longer listed", "peer_id", peer.ID, "count", len(dropped))
	}
	for _, s := range listed {
		c.applyStatus(s.Key(), statuses[s.ID], now)
	}
	return nil
}

// PollDetails refreshes usage for the current session of each connected
// peer and the subtree around it, then saves the cache.
func (c *Controller) PollDetails(ctx context.Context) {
	var g errgroup.Group
	for _, p := range c.connectedPeers() {
		g.Go(func() error {
			if err := c.detailPeer(ctx, p); err != nil {
				c.logger.WarnContext(ctx, "detail poll failed", "peer_id", p.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	c.publishState()
	c.saveCache()
}

func (c *Controller) detailPeer(ctx context.Context, peer api.Peer) error {
	sessions := c.store.SessionsOf(peer.ID)
	cur, ok := hierarchy.SelectCurrent(sessions)
	if !ok {
		return nil
	}
	_ = c.store.SetCurrent(peer.ID, cur.ID)
	subset := hierarchy.Subtree(sessions, cur.Key())

	limits, err := c.contextLimits(ctx, peer.ID)
	if err != nil {
		// usage is still worth having without limits
		c.logger.DebugContext(ctx, "provider list failed", "peer_id", peer.ID, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchLimit)
	for _, s := range subset {
		g.Go(func() error {
			raw, errCall := c.hub.Call(gctx, peer.ID, api.MethodSessionMessages, api.SessionIDParams{SessionID: s.ID})
			if errCall != nil {
				c.logger.DebugContext(gctx, "message fetch failed", "session", s.Key().String(), "error", errCall)
				return nil
			}
			var msgs []api.MessageInfo
			if errDecode := protocol.DecodeResult(raw, &msgs); errDecode != nil {
				c.logger.DebugContext(gctx, "bad message list", "session", s.Key().String(), "error", errDecode)
				return nil
			}
			usage := computeUsage(msgs, limits)
			_ = c.store.Update(s.Key(), func(x *api.Session) { x.Usage = &usage })
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) contextLimits(ctx context.Context, peerID api.PeerID) (map[string]int64, error) {
	raw, err := c.hub.Call(ctx, peerID, api.MethodProviderList, nil)
	if err != nil {
		return nil, err
	}
	var providers []api.ProviderInfo
	if err := protocol.DecodeResult(raw, &providers); err != nil {
		return nil, err
	}
	limits := make(map[string]int64)
	for _, p := range providers {
		for _, m := range p.Models {
			limits[modelKey(p.ID, m.ID)] = m.ContextLimit
		}
	}
	return limits, nil
}

func modelKey(provider, model string) string {
	return provider + "/" + model
}

// computeUsage sums assistant messages. Context figures come from the most
// recent assistant message.
func computeUsage(msgs []api.MessageInfo, limits map[string]int64) api.Usage {
	u := api.Usage{MessageCount: len(msgs)}
	var last *api.MessageInfo
	for i := range msgs {
		m := &msgs[i]
		if m.Role != "assistant" {
			continue
		}
		u.InputTokens += m.Tokens.Input
		u.OutputTokens += m.Tokens.Output
		u.ReasoningTokens += m.Tokens.Reasoning
		u.CacheReadTokens += m.Tokens.CacheRead
		u.CacheWriteTokens += m.Tokens.CacheWrite
		u.Cost += m.Cost
		if last == nil || m.Created >= last.Created {
			last = m
		}
	}
	if last != nil {
		u.ModelID = last.ModelID
		u.ProviderID = last.ProviderID
		t := last.Tokens
		u.ContextTokens = t.Input + t.Output + t.Reasoning + t.CacheRead + t.CacheWrite
		u.ContextLimit = limits[modelKey(last.ProviderID, last.ModelID)]
	}
	return u
}
