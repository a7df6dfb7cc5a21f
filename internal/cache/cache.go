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

// Package cache persists the last known peers and sessions so a restarted
// hub can show them until peers reconnect.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/eminwux/peerhub/internal/clock"
	"github.com/eminwux/peerhub/internal/common"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/pkg/api"
)

// FreshFor bounds how old a cache file may be and still be used.
const FreshFor = 60 * time.Second

type Snapshot struct {
	// Timestamp is in Unix milliseconds.
	Timestamp       int64         `json:"timestamp" yaml:"timestamp"`
	Servers         []api.Peer    `json:"servers" yaml:"servers"`
	Sessions        []api.Session `json:"sessions" yaml:"sessions"`
	CollapsedGroups []string      `json:"collapsedGroups,omitempty" yaml:"collapsedGroups,omitempty"`
}

func (s *Snapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

func (s *Snapshot) Fresh(now time.Time) bool {
	return now.Sub(s.Time()) < FreshFor
}

type File struct {
	Path  string
	Clock clock.Clock
}

func NewFile(path string, clk clock.Clock) *File {
	if clk == nil {
		clk = clock.Real()
	}
	return &File{Path: common.ExpandHome(path), Clock: clk}
}

// Save stamps the snapshot with the current time and replaces the file
// atomically.
func (f *File) Save(s *Snapshot) error {
	s.Timestamp = f.Clock.Now().UnixMilli()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrCacheWrite, err)
	}
	data = append(data, '\n')
	if err := common.AtomicWriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrCacheWrite, f.Path, err)
	}
	return nil
}

// Load reads the snapshot. A stale snapshot is still returned together with
// ErrCacheStale so read-only callers can show it.
func (f *File) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrCacheRead, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errdefs.ErrCacheRead, f.Path, err)
	}
	if !s.Fresh(f.Clock.Now()) {
		return &s, fmt.Errorf("%w: saved %s", errdefs.ErrCacheStale, s.Time().Format(time.RFC3339))
	}
	return &s, nil
}
