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

// Package hierarchy turns a peer's flat session set into the ordered display
// forest and picks the current session with the subtree worth polling.
package hierarchy

import (
	"sort"

	"github.com/eminwux/peerhub/pkg/api"
)

const (
	branchMid  = "├── "
	branchLast = "└── "
	indentMid  = "│   "
	indentLast = "    "
)

// index resolves parents within the same peer only.
type index struct {
	sessions []api.Session
	byKey    map[api.SessionKey]int
	children map[api.SessionKey][]int
}

func newIndex(sessions []api.Session) *index {
	ix := &index{
		byKey:    make(map[api.SessionKey]int, len(sessions)),
		children: make(map[api.SessionKey][]int),
	}
	for _, s := range sessions {
		k := s.Key()
		if _, dup := ix.byKey[k]; dup {
			continue
		}
		ix.byKey[k] = len(ix.sessions)
		ix.sessions = append(ix.sessions, s)
	}
	for i := range ix.sessions {
		if p, ok := ix.parent(i); ok {
			pk := ix.sessions[p].Key()
			ix.children[pk] = append(ix.children[pk], i)
		}
	}
	for k := range ix.children {
		ix.sortChildren(ix.children[k])
	}
	return ix
}

func (ix *index) parent(i int) (int, bool) {
	s := &ix.sessions[i]
	if s.ParentID == "" {
		return 0, false
	}
	p, ok := ix.byKey[api.SessionKey{PeerID: s.PeerID, SessionID: s.ParentID}]
	return p, ok
}

func (ix *index) isRoot(i int) bool {
	_, ok := ix.parent(i)
	return !ok
}

func (ix *index) sortChildren(idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := &ix.sessions[idx[a]], &ix.sessions[idx[b]]
		if !sa.CreatedAt.Equal(sb.CreatedAt) {
			return sa.CreatedAt.Before(sb.CreatedAt)
		}
		return lessKey(sa, sb)
	})
}

func (ix *index) sortRoots(idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := &ix.sessions[idx[a]], &ix.sessions[idx[b]]
		if !sa.LastActivity.Equal(sb.LastActivity) {
			return sa.LastActivity.After(sb.LastActivity)
		}
		return lessKey(sa, sb)
	})
}

func lessKey(a, b *api.Session) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.PeerID < b.PeerID
}

// Build flattens sessions into pre-order display nodes. Roots come first by
// most recent activity, children by creation time. Sessions stuck in a parent
// cycle are appended as extra roots so every session appears exactly once.
func Build(sessions []api.Session) []api.SessionNode {
	ix := newIndex(sessions)
	out := make([]api.SessionNode, 0, len(ix.sessions))
	visited := make(map[api.SessionKey]bool, len(ix.sessions))

	var roots []int
	for i := range ix.sessions {
		if ix.isRoot(i) {
			roots = append(roots, i)
		}
	}
	ix.sortRoots(roots)
	for n, r := range roots {
		out = ix.walk(out, visited, r, 0, n == len(roots)-1, "", "")
	}

	if len(out) < len(ix.sessions) {
		var orphans []int
		for i := range ix.sessions {
			if !visited[ix.sessions[i].Key()] {
				orphans = append(orphans, i)
			}
		}
		ix.sortRoots(orphans)
		for n, r := range orphans {
			if visited[ix.sessions[r].Key()] {
				continue
			}
			out = ix.walk(out, visited, r, 0, n == len(orphans)-1, "", "")
		}
	}
	return out
}

func (ix *index) walk(
	out []api.SessionNode,
	visited map[api.SessionKey]bool,
	i, depth int,
	last bool,
	prefix, indent string,
) []api.SessionNode {
	s := ix.sessions[i]
	visited[s.Key()] = true
	out = append(out, api.SessionNode{Session: s, Depth: depth, IsLastChild: last, Prefix: prefix})

	var kids []int
	for _, c := range ix.children[s.Key()] {
		if !visited[ix.sessions[c].Key()] {
			kids = append(kids, c)
		}
	}
	for n, c := range kids {
		if visited[ix.sessions[c].Key()] {
			continue
		}
		isLast := n == len(kids)-1
		branch, cont := branchMid, indentMid
		if isLast {
			branch, cont = branchLast, indentLast
		}
		out = ix.walk(out, visited, c, depth+1, isLast, indent+branch, indent+cont)
	}
	return out
}
