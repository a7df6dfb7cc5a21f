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

// Package discovery reads the persisted snapshot and prints peers and their
// session trees for the command line.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/eminwux/peerhub/internal/cache"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/hierarchy"
	"github.com/eminwux/peerhub/pkg/api"
	"gopkg.in/yaml.v3"
)

const (
	NoPeersString = "no peers found\n"

	FormatJSON = "json"
	FormatYAML = "yaml"

	// minNameWidth keeps the tree column readable on narrow terminals.
	minNameWidth = 16
	// fixedColumns is roughly what the non-name columns of a tree row take.
	fixedColumns = 64
)

// LoadSnapshot reads the cache file. A stale snapshot is returned with
// ErrCacheStale so callers can still show it with a warning.
func LoadSnapshot(ctx context.Context, logger *slog.Logger, f *cache.File) (*cache.Snapshot, error) {
	snap, err := f.Load()
	if err != nil {
		if errors.Is(err, errdefs.ErrCacheStale) && snap != nil {
			logger.DebugContext(ctx, "LoadSnapshot: cache is stale", "path", f.Path, "taken", snap.Time())
			return snap, err
		}
		logger.DebugContext(ctx, "LoadSnapshot: cannot read cache", "path", f.Path, "error", err)
		return nil, err
	}
	return snap, nil
}

func ValidFormat(format string) error {
	switch format {
	case "", FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q (use json|yaml)", errdefs.ErrOutputFmt, format)
	}
}

// PrintSnapshot writes the snapshot as json, yaml or, with an empty format,
// a peer table followed by one session tree per peer. width bounds the tree
// column when positive.
func PrintSnapshot(w io.Writer, snap *cache.Snapshot, format string, width int, now time.Time) error {
	switch format {
	case FormatJSON, FormatYAML:
		return encode(w, snap, format)
	case "":
	default:
		return ValidFormat(format)
	}

	if len(snap.Servers) == 0 {
		fmt.Fprint(w, NoPeersString)
		return nil
	}
	if err := printPeers(w, snap.Servers, now); err != nil {
		return err
	}

	byPeer := make(map[api.PeerID][]api.Session)
	for _, s := range snap.Sessions {
		byPeer[s.PeerID] = append(byPeer[s.PeerID], s)
	}
	for _, p := range snap.Servers {
		fmt.Fprintf(w, "\n%s (%s)\n", p.DisplayName, p.ID)
		if err := printTree(w, hierarchy.Build(byPeer[p.ID]), width, now); err != nil {
			return err
		}
	}
	return nil
}

func printPeers(w io.Writer, peers []api.Peer, now time.Time) error {
	//nolint:mnd // tabwriter padding
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tAPI\tPROJECT\tLAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			orNone(p.DisplayName),
			p.Liveness.String(),
			orNone(p.APIURL),
			orNone(p.Project),
			ago(p.LastSeen, now),
		)
	}
	return tw.Flush()
}

func printTree(w io.Writer, nodes []api.SessionNode, width int, now time.Time) error {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "  no sessions")
		return nil
	}
	nameWidth := 0
	if width > 0 {
		nameWidth = max(width-fixedColumns, minNameWidth)
	}

	//nolint:mnd // tabwriter padding
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tID\tACTIVE\tCOST")
	for _, n := range nodes {
		s := n.Session
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			truncate(n.Prefix+sessionName(&s), nameWidth),
			s.Status,
			s.ID,
			ago(s.LastActivity, now),
			cost(s.Usage),
		)
	}
	return tw.Flush()
}

// FindSession looks a session up by "peer:session" key or by bare session
// id. A bare id that exists on several peers is rejected.
func FindSession(snap *cache.Snapshot, ref string) (*api.Session, error) {
	if key, ok := api.ParseSessionKey(ref); ok {
		for i := range snap.Sessions {
			if snap.Sessions[i].Key() == key {
				return &snap.Sessions[i], nil
			}
		}
	}
	var found *api.Session
	for i := range snap.Sessions {
		if snap.Sessions[i].ID != ref {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %q exists on several peers, use peer:session", errdefs.ErrSessionNotFound, ref)
		}
		found = &snap.Sessions[i]
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrSessionNotFound, ref)
	}
	return found, nil
}

func PrintSession(w io.Writer, s *api.Session, format string, now time.Time) error {
	switch format {
	case FormatJSON, FormatYAML:
		return encode(w, s, format)
	case "":
	default:
		return ValidFormat(format)
	}

	//nolint:mnd // tabwriter padding
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("Key", s.Key().String())
	row("Name", sessionName(s))
	row("Status", string(s.Status))
	row("Parent", orNone(s.ParentID))
	row("Project", orNone(s.Project))
	row("Branch", orNone(s.Branch))
	row("Directory", orNone(s.Directory))
	row("Created", s.CreatedAt.Format(time.RFC3339))
	row("Last activity", ago(s.LastActivity, now))
	if u := s.Usage; u != nil {
		row("Model", orNone(strings.Trim(u.ProviderID+"/"+u.ModelID, "/")))
		row("Messages", fmt.Sprint(u.MessageCount))
		row("Tokens in/out", fmt.Sprintf("%d/%d", u.InputTokens, u.OutputTokens))
		row("Cache read/write", fmt.Sprintf("%d/%d", u.CacheReadTokens, u.CacheWriteTokens))
		row("Context", contextUse(u))
		row("Cost", cost(u))
	}
	return tw.Flush()
}

func encode(w io.Writer, v any, format string) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		//nolint:mnd // yaml indent
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sessionName(s *api.Session) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func cost(u *api.Usage) string {
	if u == nil {
		return "-"
	}
	return fmt.Sprintf("$%.2f", u.Cost)
}

func contextUse(u *api.Usage) string {
	if u.ContextLimit <= 0 {
		return fmt.Sprintf("%d", u.ContextTokens)
	}
	pct := float64(u.ContextTokens) * 100 / float64(u.ContextLimit)
	return fmt.Sprintf("%d/%d (%.0f%%)", u.ContextTokens, u.ContextLimit, pct)
}
