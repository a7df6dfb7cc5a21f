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

package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/pkg/api"
)

// ControllerTest is a test double for api.HubController.
// It lets you override behavior with function fields and records calls.
type ControllerTest struct {
	EventsCh chan api.HubEvent

	CallFunc  func(ctx context.Context, peerID api.PeerID, method string, params any) (json.RawMessage, error)
	PeersFunc func() []api.Peer
	StatsFunc func(peerID api.PeerID) (api.CallStats, bool)
	CloseFunc func() error

	mu    sync.Mutex
	calls []RecordedCall
}

type RecordedCall struct {
	PeerID api.PeerID
	Method string
	Params any
}

func NewControllerTest() *ControllerTest {
	return &ControllerTest{
		//nolint:mnd // event channel buffer size
		EventsCh: make(chan api.HubEvent, 32),
		PeersFunc: func() []api.Peer {
			return nil
		},
		CloseFunc: func() error {
			return nil
		},
	}
}

func (t *ControllerTest) Call(ctx context.Context, peerID api.PeerID, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	t.calls = append(t.calls, RecordedCall{PeerID: peerID, Method: method, Params: params})
	t.mu.Unlock()
	if t.CallFunc != nil {
		return t.CallFunc(ctx, peerID, method, params)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ControllerTest) Calls() []RecordedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RecordedCall(nil), t.calls...)
}

func (t *ControllerTest) Peers() []api.Peer {
	if t.PeersFunc != nil {
		return t.PeersFunc()
	}
	return nil
}

func (t *ControllerTest) Stats(peerID api.PeerID) (api.CallStats, bool) {
	if t.StatsFunc != nil {
		return t.StatsFunc(peerID)
	}
	return api.CallStats{}, false
}

func (t *ControllerTest) Events() <-chan api.HubEvent {
	return t.EventsCh
}

func (t *ControllerTest) Close() error {
	if t.CloseFunc != nil {
		return t.CloseFunc()
	}
	return errdefs.ErrFuncNotSet
}
