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

package hierarchy

import "github.com/eminwux/peerhub/pkg/api"

func isActive(s api.SessionStatus) bool {
	return s == api.StatusBusy || s == api.StatusWaitingForPermission
}

// SelectCurrent picks the session to show by default: a running one, else the
// most recent root, else the most recent session of all.
func SelectCurrent(sessions []api.Session) (api.Session, bool) {
	ix := newIndex(sessions)
	if len(ix.sessions) == 0 {
		return api.Session{}, false
	}

	if i, ok := ix.mostRecent(func(i int) bool { return isActive(ix.sessions[i].Status) }); ok {
		return ix.sessions[i], true
	}
	if i, ok := ix.mostRecent(ix.isRoot); ok {
		return ix.sessions[i], true
	}
	i, _ := ix.mostRecent(func(int) bool { return true })
	return ix.sessions[i], true
}

func (ix *index) mostRecent(match func(int) bool) (int, bool) {
	best, found := 0, false
	for i := range ix.sessions {
		if !match(i) {
			continue
		}
		if !found {
			best, found = i, true
			continue
		}
		a, b := &ix.sessions[i], &ix.sessions[best]
		if a.LastActivity.After(b.LastActivity) || (a.LastActivity.Equal(b.LastActivity) && lessKey(a, b)) {
			best = i
		}
	}
	return best, found
}

// Subtree returns the selected session, its parent, its descendants, its
// siblings and their descendants, each once and in input order.
func Subtree(sessions []api.Session, selected api.SessionKey) []api.Session {
	ix := newIndex(sessions)
	sel, ok := ix.byKey[selected]
	if !ok {
		return nil
	}

	keep := map[api.SessionKey]bool{selected: true}
	ix.descendants(sel, keep)

	if p, ok := ix.parent(sel); ok {
		pk := ix.sessions[p].Key()
		keep[pk] = true
		for _, sib := range ix.children[pk] {
			keep[ix.sessions[sib].Key()] = true
			ix.descendants(sib, keep)
		}
	}

	out := make([]api.Session, 0, len(keep))
	for _, s := range ix.sessions {
		if keep[s.Key()] {
			out = append(out, s)
		}
	}
	return out
}

func (ix *index) descendants(i int, keep map[api.SessionKey]bool) {
	for _, c := range ix.children[ix.sessions[i].Key()] {
		k := ix.sessions[c].Key()
		if keep[k] {
			continue
		}
		keep[k] = true
		ix.descendants(c, keep)
	}
}
