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

import (
	"context"
	"encoding/json"
	"time"
)

// HubController is the contract the rest of the system uses to reach peers.
// Nothing outside the hub touches its registry or call tables directly.
type HubController interface {
	Call(ctx context.Context, peerID PeerID, method string, params any) (json.RawMessage, error)
	Peers() []Peer
	Stats(peerID PeerID) (CallStats, bool)
	Events() <-chan HubEvent
	Close() error
}

// CallStats reports a peer's dispatcher occupancy.
type CallStats struct {
	Active int `json:"active"`
	Queued int `json:"queued"`
}

type HubEventType int

const (
	EvPeerConnected HubEventType = iota
	EvPeerDisconnected
	EvPeerRemoved
	EvPeerEvent
)

func (t HubEventType) String() string {
	switch t {
	case EvPeerConnected:
		return "peer-connected"
	case EvPeerDisconnected:
		return "peer-disconnected"
	case EvPeerRemoved:
		return "peer-removed"
	case EvPeerEvent:
		return "peer-event"
	default:
		return "unknown"
	}
}

// HubEvent is emitted by the hub towards the aggregator.
type HubEvent struct {
	Type        HubEventType
	PeerID      PeerID
	Peer        Peer      // set for EvPeerConnected
	Reconnected bool      // EvPeerConnected after a grace period
	Event       PeerEvent // set for EvPeerEvent
	When        time.Time
}

// PeerEvent is a decoded event pushed by a peer. Concrete variants live in
// the protocol package.
type PeerEvent interface {
	EventType() string
}
