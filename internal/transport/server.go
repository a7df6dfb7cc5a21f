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

// Package transport accepts peer WebSocket connections and feeds their frames
// to the hub.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/eminwux/peerhub/internal/common"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/hub"
	"github.com/eminwux/peerhub/internal/protocol"
	"github.com/eminwux/peerhub/pkg/api"
	"github.com/gorilla/websocket"
)

const (
	PeerPath = "/peer"

	helloWait = 10 * time.Second

	framePreviewLen = 120

	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second

	DefaultBindBudget = 10 * time.Second
)

// PeerHandler is the part of the hub the transport drives.
type PeerHandler interface {
	Handshake(conn hub.Conn, hello *protocol.Hello) (api.Peer, error)
	HandleFrame(conn hub.Conn, frame protocol.Frame)
	Disconnect(conn hub.Conn)
}

type Server struct {
	ctx        context.Context
	logger     *slog.Logger
	handler    PeerHandler
	addr       string
	bindBudget time.Duration

	upgrader websocket.Upgrader
	ln       net.Listener
	srv      *http.Server
}

func NewServer(ctx context.Context, logger *slog.Logger, handler PeerHandler, addr string, bindBudget time.Duration) *Server {
	if bindBudget <= 0 {
		bindBudget = DefaultBindBudget
	}
	s := &Server{
		ctx:        ctx,
		logger:     logger,
		handler:    handler,
		addr:       addr,
		bindBudget: bindBudget,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// peers are not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(PeerPath, s.servePeer)
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: helloWait,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Open binds the listener, retrying with exponential backoff until the bind
// budget is spent.
func (s *Server) Open() error {
	deadline := time.Now().Add(s.bindBudget)
	backoff := initialBackoff
	lnCfg := net.ListenConfig{}

	for attempt := 1; ; attempt++ {
		ln, err := lnCfg.Listen(s.ctx, "tcp", s.addr)
		if err == nil {
			s.ln = ln
			s.logger.InfoContext(s.ctx, "listening for peers", "addr", ln.Addr().String())
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.ErrorContext(s.ctx, "giving up on listener", "addr", s.addr, "attempts", attempt, "error", err)
			return fmt.Errorf("%w: %s: %w", errdefs.ErrListenBindFailed, s.addr, err)
		}
		wait := min(backoff, remaining)
		s.logger.WarnContext(s.ctx, "bind failed, retrying", "addr", s.addr, "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-s.ctx.Done():
			return fmt.Errorf("%w: %s: %w", errdefs.ErrListenBindFailed, s.addr, s.ctx.Err())
		case <-time.After(wait):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Close releases a listener that was opened but never served.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	if err := s.ln.Close(); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrOnClose, err)
	}
	return nil
}

// StartServer serves on the listener opened by Open until ctx is cancelled.
func (s *Server) StartServer(ctx context.Context, readyCh chan error, doneCh chan error) {
	if s.ln == nil {
		readyCh <- fmt.Errorf("%w: listener not open", errdefs.ErrStartHub)
		close(readyCh)
		select {
		case doneCh <- errdefs.ErrStartHub:
		default:
		}
		close(doneCh)
		return
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
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

func (s *Server) servePeer(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(s.ctx, "websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newPeerConn(ws)
	go conn.writePump()
	defer func() {
		_ = conn.Close(websocket.CloseNormalClosure, "")
		<-conn.writerDone
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(helloWait))

	hello, err := s.readHello(ws)
	if err != nil {
		s.logger.WarnContext(s.ctx, "handshake failed", "conn_id", conn.id, "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close(websocket.ClosePolicyViolation, "expected hello")
		return
	}
	peer, err := s.handler.Handshake(conn, hello)
	if err != nil {
		s.logger.WarnContext(s.ctx, "handshake rejected", "conn_id", conn.id, "peer_id", hello.PeerID, "error", err)
		reason := err.Error()
		if errors.Is(err, errdefs.ErrAuthRejected) {
			reason = errdefs.ErrAuthRejected.Error()
		}
		code := websocket.ClosePolicyViolation
		if errors.Is(err, errdefs.ErrShuttingDown) {
			code = websocket.CloseGoingAway
		}
		_ = conn.Close(code, reason)
		return
	}
	s.logger.DebugContext(s.ctx, "peer attached", "conn_id", conn.id, "peer_id", peer.ID)
	defer func() {
		s.handler.Disconnect(conn)
		s.logger.DebugContext(s.ctx, "peer detached", "conn_id", conn.id, "peer_id", peer.ID)
	}()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, errRead := ws.ReadMessage()
		if errRead != nil {
			if websocket.IsUnexpectedCloseError(errRead, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WarnContext(s.ctx, "peer read error", "conn_id", conn.id, "peer_id", peer.ID, "error", errRead)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		frame, errDecode := protocol.DecodeFrame(data)
		if errDecode != nil {
			s.logger.WarnContext(s.ctx, "dropping malformed frame",
				"peer_id", peer.ID, "error", errDecode, "frame", common.Preview(data, framePreviewLen))
			continue
		}
		s.handler.HandleFrame(conn, frame)
	}
}

func (s *Server) readHello(ws *websocket.Conn) (*protocol.Hello, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrHandshake, err)
	}
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrHandshake, err)
	}
	hello, ok := frame.(*protocol.Hello)
	if !ok {
		return nil, fmt.Errorf("%w: first frame is %T", errdefs.ErrHandshake, frame)
	}
	return hello, nil
}
