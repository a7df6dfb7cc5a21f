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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/naming"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 << 20

	sendQueueSize = 256
)

var errSendQueueFull = errors.New("send queue full")

// peerConn adapts a websocket to hub.Conn. Frames go through a bounded queue
// drained by writePump, so Send never blocks the hub.
type peerConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	closeOnce   sync.Once
	closed      atomic.Bool
	done        chan struct{}
	closeCode   int
	closeReason string
	writerDone  chan struct{}
}

func newPeerConn(ws *websocket.Conn) *peerConn {
	return &peerConn{
		id:         naming.RandomID(),
		ws:         ws,
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *peerConn) Send(data []byte) error {
	if c.closed.Load() {
		return errdefs.ErrPeerDisconnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: %w", errdefs.ErrPeerDisconnected, errSendQueueFull)
	}
}

// Close asks writePump to send a close frame and drop the socket.
func (c *peerConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

func (c *peerConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *peerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.done:
			// closeCode and closeReason are set before done is closed
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
