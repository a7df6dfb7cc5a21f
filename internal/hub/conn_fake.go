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
	"encoding/json"
	"sync"
)

// ConnTest is a test double for Conn. Sent frames and the close call are
// recorded; SendFunc can inject failures.
type ConnTest struct {
	Addr     string
	SendFunc func(data []byte) error

	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func NewConnTest(addr string) *ConnTest {
	return &ConnTest{Addr: addr}
}

func (c *ConnTest) Send(data []byte) error {
	if c.SendFunc != nil {
		if err := c.SendFunc(data); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *ConnTest) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *ConnTest) RemoteAddr() string {
	return c.Addr
}

// SentRequest is a request frame as the peer would see it.
type SentRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (c *ConnTest) Requests() []SentRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentRequest, 0, len(c.sent))
	for _, b := range c.sent {
		var r SentRequest
		if err := json.Unmarshal(b, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func (c *ConnTest) Closed() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}
