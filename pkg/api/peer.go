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

type PeerID string

// APIDisabled is advertised by a peer whose local API surface is turned off.
const APIDisabled = "disabled"

// APIAutoHost is replaced by the hub with the peer's observed remote address.
const APIAutoHost = "AUTO"

type Liveness int

const (
	PeerConnected Liveness = iota
	PeerPendingReconnect
)

func (l Liveness) String() string {
	switch l {
	case PeerConnected:
		return "connected"
	case PeerPendingReconnect:
		return "pending-reconnect"
	default:
		return "unknown"
	}
}

func (l Liveness) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Liveness) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connected":
		*l = PeerConnected
	default:
		*l = PeerPendingReconnect
	}
	return nil
}

type Peer struct {
	ID               PeerID    `json:"id" yaml:"id"`
	DisplayName      string    `json:"displayName" yaml:"displayName"`
	APIURL           string    `json:"apiUrl,omitempty" yaml:"apiUrl,omitempty"`
	Project          string    `json:"project,omitempty" yaml:"project,omitempty"`
	Branch           string    `json:"branch,omitempty" yaml:"branch,omitempty"`
	WorkingDirectory string    `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`
	LastSeen         time.Time `json:"lastSeen" yaml:"lastSeen"`
	Liveness         Liveness  `json:"liveness" yaml:"liveness"`
}

// APIEnabled reports whether the peer advertised a usable API URL.
func (p *Peer) APIEnabled() bool {
	return p.APIURL != "" && p.APIURL != APIDisabled
}
