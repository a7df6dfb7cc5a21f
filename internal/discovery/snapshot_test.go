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

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eminwux/peerhub/internal/cache"
	"github.com/eminwux/peerhub/internal/clock"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/logging"
	"github.com/eminwux/peerhub/pkg/api"
	"gopkg.in/yaml.v3"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() *cache.Snapshot {
	return &cache.Snapshot{
		Servers: []api.Peer{
			{ID: "p1", DisplayName: "laptop", APIURL: "http://10.0.0.5:4097", Liveness: api.PeerConnected, LastSeen: now},
			{ID: "p2", DisplayName: "desktop", Liveness: api.PeerPendingReconnect},
		},
		Sessions: []api.Session{
			{PeerID: "p1", ID: "root", Name: "Refactor parser", Status: api.StatusBusy,
				CreatedAt: now.Add(-2 * time.Hour), LastActivity: now.Add(-5 * time.Minute),
				Usage: &api.Usage{Cost: 1.5, ContextTokens: 50000, ContextLimit: 200000}},
			{PeerID: "p1", ID: "child", Name: "Write tests", ParentID: "root", Status: api.StatusIdle,
				CreatedAt: now.Add(-time.Hour), LastActivity: now.Add(-time.Hour)},
			{PeerID: "p2", ID: "child", Name: "Other child", Status: api.StatusIdle},
		},
	}
}

func Test_PrintSnapshotHuman(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintSnapshot(&buf, sampleSnapshot(), "", 0, now); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	out := buf.String()
	for _, want := range []string{"laptop", "pending-reconnect", "Refactor parser", "└── Write tests", "$1.50", "5m ago"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain '%s'; got:\n%s", want, out)
		}
	}
}

func Test_PrintSnapshotEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintSnapshot(&buf, &cache.Snapshot{}, "", 0, now); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if buf.String() != NoPeersString {
		t.Fatalf("expected '%s'; got: '%s'", NoPeersString, buf.String())
	}
}

func Test_PrintSnapshotFormats(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintSnapshot(&buf, sampleSnapshot(), FormatJSON, 0, now); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	var back cache.Snapshot
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil || len(back.Sessions) != 3 {
		t.Fatalf("json output did not decode: %v", err)
	}

	buf.Reset()
	if err := PrintSnapshot(&buf, sampleSnapshot(), FormatYAML, 0, now); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("yaml output did not decode: %v", err)
	}
	if _, ok := doc["servers"]; !ok {
		t.Fatalf("expected 'servers' key in yaml output")
	}

	err := PrintSnapshot(&buf, sampleSnapshot(), "xml", 0, now)
	if !errors.Is(err, errdefs.ErrOutputFmt) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrOutputFmt, err)
	}
}

func Test_TruncateRespectsWidth(t *testing.T) {
	if got := truncate("abcdefgh", 5); got != "abcd…" {
		t.Fatalf("expected 'abcd…'; got: '%s'", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("expected 'abc'; got: '%s'", got)
	}
}

func Test_FindSession(t *testing.T) {
	snap := sampleSnapshot()

	s, err := FindSession(snap, "root")
	if err != nil || s.Key().String() != "p1:root" {
		t.Fatalf("expected 'p1:root'; got: '%v' '%v'", s, err)
	}

	if _, err := FindSession(snap, "child"); !errors.Is(err, errdefs.ErrSessionNotFound) {
		t.Fatalf("expected ambiguous id to fail; got: '%v'", err)
	}

	s, err = FindSession(snap, "p2:child")
	if err != nil || s.Name != "Other child" {
		t.Fatalf("expected 'Other child'; got: '%v' '%v'", s, err)
	}

	if _, err := FindSession(snap, "nope"); !errors.Is(err, errdefs.ErrSessionNotFound) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrSessionNotFound, err)
	}
}

func Test_PrintSessionHuman(t *testing.T) {
	var buf bytes.Buffer
	s := sampleSnapshot().Sessions[0]
	if err := PrintSession(&buf, &s, "", now); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if !strings.Contains(buf.String(), "50000/200000 (25%)") {
		t.Fatalf("expected context usage line; got:\n%s", buf.String())
	}
}

func Test_LoadSnapshotStale(t *testing.T) {
	clk := clock.Fake(now)
	f := cache.NewFile(filepath.Join(t.TempDir(), "cache.json"), clk)
	if err := f.Save(sampleSnapshot()); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	ctx := context.Background()
	logger := logging.NewNoopLogger()

	if _, err := LoadSnapshot(ctx, logger, f); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}

	clk.Advance(2 * cache.FreshFor)
	snap, err := LoadSnapshot(ctx, logger, f)
	if !errors.Is(err, errdefs.ErrCacheStale) || snap == nil {
		t.Fatalf("expected stale snapshot with '%v'; got: '%v'", errdefs.ErrCacheStale, err)
	}
}
