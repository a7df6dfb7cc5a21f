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

package sessionstore

import (
	"sort"
	"sync"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/pkg/api"
)

// SessionStore holds the aggregated view of peers and their sessions keyed
// by composite session key.
type SessionStore interface {
	UpsertPeer(p api.Peer)
	Peer(id api.PeerID) (api.Peer, bool)
	Peers() []api.Peer
	RemovePeer(id api.PeerID) int
	// Generation counts removals of the peer. A poll started under one
	// generation may only write while it is still current.
	Generation(id api.PeerID) uint64
	Generations() map[api.PeerID]uint64
	// RefreshPeer stores p unless the peer was removed after gen was read.
	RefreshPeer(p api.Peer, gen uint64) bool

	Upsert(s api.Session)
	Get(key api.SessionKey) (api.Session, bool)
	// Update applies fn to the stored session under the store lock.
	Update(key api.SessionKey, fn func(s *api.Session)) error
	Remove(key api.SessionKey) bool
	SessionsOf(id api.PeerID) []api.Session
	All() []api.Session
	DropSessions(id api.PeerID) int
	// MergeListing upserts the listed sessions and drops the peer's unlisted
	// ones in one step. It fails with ErrPeerNotFound when the peer is gone
	// or was removed after gen was read.
	MergeListing(id api.PeerID, gen uint64, listed []api.Session) ([]api.SessionKey, error)

	Current(id api.PeerID) (string, bool)
	SetCurrent(id api.PeerID, sessionID string) error
}

type Exec struct {
	mu       sync.RWMutex
	peers    map[api.PeerID]api.Peer
	sessions map[api.SessionKey]*api.Session
	current  map[api.PeerID]string
	removals map[api.PeerID]uint64
}

func NewSessionStoreExec() SessionStore {
	return &Exec{
		peers:    make(map[api.PeerID]api.Peer),
		sessions: make(map[api.SessionKey]*api.Session),
		current:  make(map[api.PeerID]string),
		removals: make(map[api.PeerID]uint64),
	}
}

/* Peers */

func (m *Exec) UpsertPeer(p api.Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[p.ID] = p
}

func (m *Exec) Peer(id api.PeerID) (api.Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	return p, ok
}

func (m *Exec) Peers() []api.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemovePeer forgets the peer and every session it owned.
func (m *Exec) RemovePeer(id api.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
	delete(m.current, id)
	m.removals[id]++
	return m.dropLocked(id)
}

func (m *Exec) Generation(id api.PeerID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.removals[id]
}

func (m *Exec) Generations() map[api.PeerID]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[api.PeerID]uint64, len(m.removals))
	for id, g := range m.removals {
		out[id] = g
	}
	return out
}

func (m *Exec) RefreshPeer(p api.Peer, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removals[p.ID] != gen {
		return false
	}
	m.peers[p.ID] = p
	return true
}

/* Sessions */

func (m *Exec) Upsert(s api.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(s)
}

func (m *Exec) upsertLocked(s api.Session) {
	k := s.Key()
	if prev, ok := m.sessions[k]; ok {
		// status and usage are owned by their own update paths
		if s.Status == "" {
			s.Status = prev.Status
			s.StatusUpdatedAt = prev.StatusUpdatedAt
		}
		if s.Usage == nil {
			s.Usage = prev.Usage
		}
	} else if s.Status == "" {
		s.Status = api.StatusIdle
	}
	m.sessions[k] = &s
}

func (m *Exec) Get(key api.SessionKey) (api.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return api.Session{}, false
	}
	return *s, true
}

func (m *Exec) Update(key api.SessionKey, fn func(s *api.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return errdefs.ErrSessionNotFound
	}
	fn(s)
	return nil
}

func (m *Exec) Remove(key api.SessionKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[key]; !ok {
		return false
	}
	delete(m.sessions, key)
	if m.current[key.PeerID] == key.SessionID {
		delete(m.current, key.PeerID)
	}
	return true
}

func (m *Exec) SessionsOf(id api.PeerID) []api.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []api.Session
	for k, s := range m.sessions {
		if k.PeerID == id {
			out = append(out, *s)
		}
	}
	sortSessions(out)
	return out
}

func (m *Exec) All() []api.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sortSessions(out)
	return out
}

func (m *Exec) MergeListing(id api.PeerID, gen uint64, listed []api.Session) ([]api.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; !ok || m.removals[id] != gen {
		return nil, errdefs.ErrPeerNotFound
	}
	keep := make(map[string]bool, len(listed))
	for _, s := range listed {
		if s.PeerID != id || s.ID == "" {
			continue
		}
		keep[s.ID] = true
		m.upsertLocked(s)
	}
	return m.retainLocked(id, keep), nil
}

func (m *Exec) retainLocked(id api.PeerID, keep map[string]bool) []api.SessionKey {
	var dropped []api.SessionKey
	for k := range m.sessions {
		if k.PeerID == id && !keep[k.SessionID] {
			delete(m.sessions, k)
			dropped = append(dropped, k)
		}
	}
	if cur, ok := m.current[id]; ok && !keep[cur] {
		delete(m.current, id)
	}
	return dropped
}

func (m *Exec) DropSessions(id api.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.current, id)
	return m.dropLocked(id)
}

func (m *Exec) dropLocked(id api.PeerID) int {
	n := 0
	for k := range m.sessions {
		if k.PeerID == id {
			delete(m.sessions, k)
			n++
		}
	}
	return n
}

/* Current session */

func (m *Exec) Current(id api.PeerID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.current[id]
	return cur, ok
}

func (m *Exec) SetCurrent(id api.PeerID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[api.SessionKey{PeerID: id, SessionID: sessionID}]; !ok {
		return errdefs.ErrSessionNotFound
	}
	m.current[id] = sessionID
	return nil
}

func sortSessions(s []api.Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].PeerID != s[j].PeerID {
			return s[i].PeerID < s[j].PeerID
		}
		return s[i].ID < s[j].ID
	})
}
