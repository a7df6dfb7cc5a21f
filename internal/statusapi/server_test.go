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

package statusapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eminwux/peerhub/internal/logging"
	"github.com/eminwux/peerhub/internal/monitor"
	"github.com/eminwux/peerhub/pkg/api"
)

type stateSourceTest struct {
	StateFunc func() api.State
}

func (s *stateSourceTest) State() api.State {
	return s.StateFunc()
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	src := &stateSourceTest{StateFunc: func() api.State {
		return api.State{
			Peers:    []api.Peer{{ID: "p1", DisplayName: "laptop"}},
			Sessions: []api.Session{{PeerID: "p1", ID: "s1", Status: api.StatusBusy}},
		}
	}}
	s, err := NewServer(context.Background(), logging.NewNoopLogger(), "127.0.0.1:0", src)
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func Test_StateEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + PathState)
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected '%d'; got: '%d'", http.StatusOK, resp.StatusCode)
	}
	var st api.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if len(st.Sessions) != 1 || st.Sessions[0].Status != api.StatusBusy {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func Test_Healthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + PathHealthz)
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected '%d'; got: '%d'", http.StatusOK, resp.StatusCode)
	}
}

func Test_StateEndpointRejectsPost(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+PathState, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected '%d'; got: '%d'", http.StatusMethodNotAllowed, resp.StatusCode)
	}
}

type sseEvent struct {
	id, typ, data string
}

func readEvents(resp *http.Response, out chan<- sseEvent) {
	sc := bufio.NewScanner(resp.Body)
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.data != "" {
				out <- ev
			}
			ev = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			ev.typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data += strings.TrimPrefix(line, "data: ")
		}
	}
	close(out)
}

func Test_EventStreamSendsStateThenPublished(t *testing.T) {
	s, ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+PathEvents, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected 'text/event-stream'; got: '%s'", ct)
	}

	events := make(chan sseEvent, 16)
	go readEvents(resp, events)

	first := <-events
	if first.typ != monitor.TopicState || !strings.Contains(first.data, `"s1"`) {
		t.Fatalf("expected initial state event; got: %+v", first)
	}

	// the subscription attaches asynchronously, so keep publishing until one lands
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tk := time.NewTicker(20 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				s.Publish(monitor.TopicNotification, api.Notification{Title: "Session completed"})
			}
		}
	}()

	select {
	case ev := <-events:
		if ev.typ != monitor.TopicNotification || ev.id == "" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		var n api.Notification
		if err := json.Unmarshal([]byte(ev.data), &n); err != nil || n.Title != "Session completed" {
			t.Fatalf("unexpected notification payload: %s", ev.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no published event received")
	}
}

func Test_StartServerWithoutOpen(t *testing.T) {
	s, _ := newTestServer(t)
	readyCh := make(chan error, 1)
	doneCh := make(chan error, 1)
	s.StartServer(context.Background(), readyCh, doneCh)
	if err := <-readyCh; err == nil {
		t.Fatalf("expected an error when the listener is not open")
	}
}

func Test_OpenAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Open(); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan error, 1)
	doneCh := make(chan error, 1)
	go s.StartServer(ctx, readyCh, doneCh)
	if err := <-readyCh; err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}

	resp, err := http.Get("http://" + s.Addr() + PathHealthz)
	if err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	resp.Body.Close()

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
