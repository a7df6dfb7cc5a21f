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

package api

import "time"

// State is what the rendering layer sees: every peer, every session, and
// each peer's display forest.
type State struct {
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
	Peers     []Peer     `json:"peers" yaml:"peers"`
	Sessions  []Session  `json:"sessions" yaml:"sessions"`
	Trees     []PeerTree `json:"trees" yaml:"trees"`
}

type PeerTree struct {
	PeerID  PeerID        `json:"peerId" yaml:"peerId"`
	Current string        `json:"current,omitempty" yaml:"current,omitempty"`
	Nodes   []SessionNode `json:"nodes" yaml:"nodes"`
}
