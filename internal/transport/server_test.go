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

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/hub"
	"github.com/eminwux/peerhub/internal/logging"
	"github.com/eminwux/peerhub/pkg/api"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	hub *hub.Hub
	url string
}

func newTestEnv(t *testing.T, opts hub.Options) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.NewNoopLogger()
	h := hub.New(ctx, logger, opts)
	s := NewServer(ctx, logger, h, "127.0.0.1:0", time.Second)
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(func() {
		_ = h.Close()
		ts.Close()
		cancel()
	})
	return &testEnv{hub: h, url: "ws" + strings.TrimPrefix(ts.URL, "http") + PeerPath}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func hello(t *testing.T, ws *websocket.Conn, id, token string) {
	t.Helper()
	msg := map[string]any{
		"type":             "hello",
		"peerId":           id,
		"displayName":      id,
		"apiUrl":           "http://AUTO:4097",
		"workingDirectory": "/src",
		"authToken":        token,
	}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
}

func waitEvent(t *testing.T, h *hub.Hub, want api.HubEventType) api.HubEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.Events():
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no '%v' event", want)
		}
	}
}

func Test_PeerRoundTrip(t *testing.T) {
	env := newTestEnv(t, hub.Options{AuthToken: "s3cret"})
	ws := env.dial(t)
	hello(t, ws, "p1", "s3cret")

	ev := waitEvent(t, env.hub, api.EvPeerConnected)
	if ev.Peer.APIURL != "http://127.0.0.1:4097" {
		t.Fatalf("expected AUTO resolved to the remote host; got: '%s'", ev.Peer.APIURL)
	}

	type result struct {
		raw json.RawMessage
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		raw, err := env.hub.Call(context.Background(), "p1", api.MethodSessionList, nil)
		resCh <- result{raw, err}
	}()

	var req struct {
		ID     uint64 `json:"id"`
		Method string `json:"method"`
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&req); err != nil {
		t.Fatalf("expected a request; got: '%v'", err)
	}
	if req.Method != api.MethodSessionList {
		t.Fatalf("expected '%s'; got: '%s'", api.MethodSessionList, req.Method)
	}

	// garbage in between is dropped without closing the connection
	_ = ws.WriteMessage(websocket.TextMessage, []byte("{not json"))
	_ = ws.WriteJSON(map[string]any{"id": req.ID, "result": []map[string]any{{"id": "s1"}}})

	res := <-resCh
	if res.err != nil || !strings.Contains(string(res.raw), `"s1"`) {
		t.Fatalf("expected session list; got: '%s' '%v'", res.raw, res.err)
	}

	_ = ws.WriteJSON(map[string]any{"type": "event", "event": map[string]any{"type": "status-changed", "sessionId": "s1", "status": "busy"}})
	ev = waitEvent(t, env.hub, api.EvPeerEvent)
	if ev.Event.EventType() != "status-changed" {
		t.Fatalf("expected 'status-changed'; got: '%s'", ev.Event.EventType())
	}
}

func Test_UnauthorizedHandshakeIsClosed(t *testing.T) {
	env := newTestEnv(t, hub.Options{AuthToken: "s3cret"})
	ws := env.dial(t)
	hello(t, ws, "p1", "wrong")

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected a close frame; got: '%v'", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != "unauthorized" {
		t.Fatalf("expected '1008 unauthorized'; got: '%d %s'", closeErr.Code, closeErr.Text)
	}
	if len(env.hub.Peers()) != 0 {
		t.Fatalf("unauthorized peer must not be registered")
	}
}

func Test_FirstFrameMustBeHello(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	ws := env.dial(t)
	_ = ws.WriteJSON(map[string]any{"type": "goodbye"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation close; got: '%v'", err)
	}
}

func Test_DropMidCallRejectsCaller(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	ws := env.dial(t)
	hello(t, ws, "p1", "")
	waitEvent(t, env.hub, api.EvPeerConnected)

	errCh := make(chan error, 1)
	go func() {
		_, err := env.hub.Call(context.Background(), "p1", api.MethodSessionStatus, nil)
		errCh <- err
	}()

	var req map[string]any
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&req); err != nil {
		t.Fatalf("expected a request; got: '%v'", err)
	}
	_ = ws.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, errdefs.ErrPeerDisconnected) {
			t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrPeerDisconnected, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("caller was not released after the drop")
	}
	waitEvent(t, env.hub, api.EvPeerDisconnected)
}

func Test_GoodbyeRemovesPeer(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	ws := env.dial(t)
	hello(t, ws, "p1", "")
	waitEvent(t, env.hub, api.EvPeerConnected)

	_ = ws.WriteJSON(map[string]any{"type": "goodbye"})
	waitEvent(t, env.hub, api.EvPeerRemoved)
}

func Test_OpenGivesUpWhenPortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	defer taken.Close()

	s := NewServer(context.Background(), logging.NewNoopLogger(), nil, taken.Addr().String(), 300*time.Millisecond)
	start := time.Now()
	err = s.Open()
	if !errors.Is(err, errdefs.ErrListenBindFailed) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrListenBindFailed, err)
	}
	if time.Since(start) < 250*time.Millisecond {
		t.Fatalf("expected retries for the whole budget")
	}
}

func Test_CloseTwiceReportsError(t *testing.T) {
	s := NewServer(context.Background(), logging.NewNoopLogger(), nil, "127.0.0.1:0", time.Second)
	if err := s.Close(); err != nil {
		t.Fatalf("expected 'nil' before open; got: '%v'", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if err := s.Close(); !errors.Is(err, errdefs.ErrOnClose) || !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrOnClose, err)
	}
}

func Test_OpenAndServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.New(ctx, logging.NewNoopLogger(), hub.Options{})
	defer h.Close()

	s := NewServer(ctx, logging.NewNoopLogger(), h, "127.0.0.1:0", time.Second)
	if err := s.Open(); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	readyCh := make(chan error)
	doneCh := make(chan error, 1)
	go s.StartServer(ctx, readyCh, doneCh)
	if err := <-readyCh; err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+PeerPath, nil)
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	defer ws.Close()
	hello(t, ws, "p1", "")
	waitEvent(t, h, api.EvPeerConnected)

	cancel()
	select {
	case err := <-doneCh:
		if err != nil {
			t.Fatalf("expected 'nil'; got: '%v'", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop")
	}
}
