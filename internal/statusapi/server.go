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

// Package statusapi exposes the monitor's view to renderers over HTTP: a JSON
// snapshot and a server-sent event stream.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/monitor"
	"github.com/eminwux/peerhub/pkg/api"
	"github.com/oklog/ulid/v2"
	"github.com/tmaxmax/go-sse"
)

const (
	PathState   = "/api/state"
	PathEvents  = "/api/events"
	PathHealthz = "/healthz"

	replayTTL         = 5 * time.Minute
	subscriberBuffer  = 128
	shutdownWait      = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// StateSource is the read side of the monitor.
type StateSource interface {
	State() api.State
}

type Server struct {
	ctx    context.Context
	logger *slog.Logger
	addr   string
	source StateSource

	provider  sse.Provider
	publishMu sync.Mutex

	ln  net.Listener
	srv *http.Server
}

var _ monitor.Publisher = (*Server)(nil)

func NewServer(ctx context.Context, logger *slog.Logger, addr string, source StateSource) (*Server, error) {
	replayer, err := sse.NewValidReplayer(replayTTL, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrStartAPIServer, err)
	}
	s := &Server{
		ctx:      ctx,
		logger:   logger,
		addr:     addr,
		source:   source,
		provider: &sse.Joe{Replayer: replayer},
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathState, s.handleState)
	mux.HandleFunc("GET "+PathEvents, s.handleEvents)
	mux.HandleFunc("GET "+PathHealthz, s.handleHealthz)
	return mux
}

func (s *Server) Open() error {
	lnCfg := net.ListenConfig{}
	ln, err := lnCfg.Listen(s.ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrListenBindFailed, s.addr, err)
	}
	s.ln = ln
	s.logger.InfoContext(s.ctx, "state API listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// StartServer serves until ctx is cancelled. Open must have been called.
func (s *Server) StartServer(ctx context.Context, readyCh chan error, doneCh chan error) {
	if s.ln == nil {
		readyCh <- fmt.Errorf("%w: listener not open", errdefs.ErrStartAPIServer)
		close(readyCh)
		select {
		case doneCh <- errdefs.ErrStartAPIServer:
		default:
		}
		close(doneCh)
		return
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := s.provider.Shutdown(shutdownCtx); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
			s.logger.WarnContext(shutdownCtx, "event stream shutdown", "error", err)
		}
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	readyCh <- nil
	close(readyCh)

	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		err = nil
	}
	select {
	case doneCh <- err:
	default:
	}
	close(doneCh)
}

// Publish sends payload as JSON to every subscriber of topic. The event
// type on the stream is the topic name.
func (s *Server) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(s.ctx, "cannot encode event", "topic", topic, "error", err)
		return
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	msg := &sse.Message{ID: sse.ID(ulid.Make().String()), Type: sse.Type(topic)}
	msg.AppendData(string(data))
	if err := s.provider.Publish(msg, []string{topic}); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		s.logger.WarnContext(s.ctx, "publish failed", "topic", topic, "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.State())
}

type channelMessageWriter struct {
	ch chan *sse.Message
}

func (w *channelMessageWriter) Send(message *sse.Message) error {
	select {
	case w.ch <- message.Clone():
		return nil
	default:
		return errors.New("sse subscriber is backpressured")
	}
}

func (w *channelMessageWriter) Flush() error {
	return nil
}

// handleEvents streams state and notification events. A fresh subscriber
// first receives the current state; a reconnecting one passes Last-Event-ID
// and gets the missed events replayed instead.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	lastEventID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if lastEventID == "" {
		lastEventID = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}
	topics := []string{monitor.TopicState, monitor.TopicNotification}
	if t := strings.TrimSpace(r.URL.Query().Get("topic")); t != "" {
		topics = strings.Split(t, ",")
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	ready := &sse.Message{}
	ready.AppendComment("ready")
	if err := sess.Send(ready); err != nil {
		return
	}

	if lastEventID == "" && slices.Contains(topics, monitor.TopicState) {
		data, errMarshal := json.Marshal(s.source.State())
		if errMarshal != nil {
			return
		}
		initial := &sse.Message{Type: sse.Type(monitor.TopicState)}
		initial.AppendData(string(data))
		if err := sess.Send(initial); err != nil {
			return
		}
	}
	_ = sess.Flush()

	writer := &channelMessageWriter{ch: make(chan *sse.Message, subscriberBuffer)}
	sub := sse.Subscription{Client: writer, Topics: topics}
	if lastEventID != "" {
		sub.LastEventID = sse.ID(lastEventID)
	}
	subscribeErr := make(chan error, 1)
	go func() {
		subscribeErr <- s.provider.Subscribe(r.Context(), sub)
	}()

	s.logger.DebugContext(r.Context(), "event subscriber attached", "remote", r.RemoteAddr, "topics", topics)
	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-subscribeErr:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, sse.ErrProviderClosed) {
				s.logger.DebugContext(r.Context(), "event subscription ended", "error", err)
			}
			return
		case message := <-writer.ch:
			if err := sess.Send(message); err != nil {
				return
			}
			_ = sess.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
