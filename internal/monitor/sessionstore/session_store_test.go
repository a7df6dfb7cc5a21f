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
	"errors"
	"testing"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/pkg/api"
)

func key(peer, id string) api.SessionKey {
	return api.SessionKey{PeerID: api.PeerID(peer), SessionID: id}
}

func Test_UpsertKeepsStatusAndUsage(t *testing.T) {
	st := NewSessionStoreExec()
	st.Upsert(api.Session{PeerID: "p1", ID: "s1", Name: "old", Status: api.StatusBusy, Usage: &api.Usage{Cost: 1}})
	st.Upsert(api.Session{PeerID: "p1", ID: "s1", Name: "new"})

	got, ok := st.Get(key("p1", "s1"))
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if got.Name != "new" || got.Status != api.StatusBusy || got.Usage == nil {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}

func Test_SameSessionIDOnTwoPeers(t *testing.T) {
	st := NewSessionStoreExec()
	st.Upsert(api.Session{PeerID: "p1", ID: "s1"})
	st.Upsert(api.Session{PeerID: "p2", ID: "s1"})
	if len(st.All()) != 2 {
		t.Fatalf("expected '2' sessions; got: '%d'", len(st.All()))
	}
	if n := st.RemovePeer("p1"); n != 1 {
		t.Fatalf("expected '1' dropped; got: '%d'", n)
	}
	if _, ok := st.Get(key("p2", "s1")); !ok {
		t.Fatalf("removing p1 must not touch p2")
	}
}

func Test_MergeListingDropsUnlisted(t *testing.T) {
	st := NewSessionStoreExec()
	st.UpsertPeer(api.Peer{ID: "p1"})
	for _, id := range []string{"a", "b", "c"} {
		st.Upsert(api.Session{PeerID: "p1", ID: id, Status: api.StatusBusy})
	}
	st.Upsert(api.Session{PeerID: "p2", ID: "a"})
	_ = st.SetCurrent("p1", "c")

	dropped, err := st.MergeListing("p1", st.Generation("p1"), []api.Session{{PeerID: "p1", ID: "a", Name: "renamed"}})
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if len(dropped) != 2 {
		t.Fatalf("expected '2' dropped; got: '%d'", len(dropped))
	}
	got, _ := st.Get(key("p1", "a"))
	if got.Name != "renamed" || got.Status != api.StatusBusy {
		t.Fatalf("unexpected merge result: %+v", got)
	}
	if _, ok := st.Current("p1"); ok {
		t.Fatalf("expected current cleared when it was dropped")
	}
	if len(st.SessionsOf("p2")) != 1 {
		t.Fatalf("merge must only affect the given peer")
	}
}

func Test_MergeListingAfterRemovalIsRejected(t *testing.T) {
	st := NewSessionStoreExec()
	st.UpsertPeer(api.Peer{ID: "p1"})
	gen := st.Generation("p1")

	st.RemovePeer("p1")
	_, err := st.MergeListing("p1", gen, []api.Session{{PeerID: "p1", ID: "a"}})
	if !errors.Is(err, errdefs.ErrPeerNotFound) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrPeerNotFound, err)
	}
	if len(st.All()) != 0 {
		t.Fatalf("expected '0' sessions; got: '%d'", len(st.All()))
	}

	// the peer registers again: the old generation stays stale
	st.UpsertPeer(api.Peer{ID: "p1"})
	if _, err := st.MergeListing("p1", gen, []api.Session{{PeerID: "p1", ID: "a"}}); !errors.Is(err, errdefs.ErrPeerNotFound) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrPeerNotFound, err)
	}
	if _, err := st.MergeListing("p1", st.Generation("p1"), []api.Session{{PeerID: "p1", ID: "a"}}); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
}

func Test_RefreshPeerAfterRemoval(t *testing.T) {
	st := NewSessionStoreExec()
	gen := st.Generation("p1")
	if !st.RefreshPeer(api.Peer{ID: "p1"}, gen) {
		t.Fatalf("expected refresh of a never removed peer to succeed")
	}
	st.RemovePeer("p1")
	if st.RefreshPeer(api.Peer{ID: "p1"}, gen) {
		t.Fatalf("expected refresh with a stale generation to fail")
	}
	if _, ok := st.Peer("p1"); ok {
		t.Fatalf("removed peer must not come back")
	}
}

func Test_UpdateAndCurrentUnknown(t *testing.T) {
	st := NewSessionStoreExec()
	if err := st.Update(key("p1", "x"), func(*api.Session) {}); !errors.Is(err, errdefs.ErrSessionNotFound) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrSessionNotFound, err)
	}
	if err := st.SetCurrent("p1", "x"); !errors.Is(err, errdefs.ErrSessionNotFound) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrSessionNotFound, err)
	}
}
