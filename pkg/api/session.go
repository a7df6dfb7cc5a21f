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
	"strings"
	"time"
)

// SessionStatus is the canonical status of a session. Upstream tokens are
// mapped into this closed set by the status package.
type SessionStatus string

const (
	StatusIdle                 SessionStatus = "idle"
	StatusBusy                 SessionStatus = "busy"
	StatusRetry                SessionStatus = "retry"
	StatusWaitingForPermission SessionStatus = "waiting_for_permission"
	StatusCompleted            SessionStatus = "completed"
	StatusError                SessionStatus = "error"
	StatusAborted              SessionStatus = "aborted"
)

// KeySeparator joins the peer id and the session id in a SessionKey's text form.
const KeySeparator = ":"

// SessionKey identifies a session across all peers.
type SessionKey struct {
	PeerID    PeerID `json:"peerId"`
	SessionID string `json:"sessionId"`
}

func (k SessionKey) String() string {
	return string(k.PeerID) + KeySeparator + k.SessionID
}

// ParseSessionKey splits on the first separator, so any key whose peer id
// does not contain the separator round-trips through String.
func ParseSessionKey(s string) (SessionKey, bool) {
	peer, session, ok := strings.Cut(s, KeySeparator)
	if !ok || peer == "" || session == "" {
		return SessionKey{}, false
	}
	return SessionKey{PeerID: PeerID(peer), SessionID: session}, true
}

type Session struct {
	PeerID          PeerID        `json:"peerId" yaml:"peerId"`
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Status          SessionStatus `json:"status" yaml:"status"`
	CreatedAt       time.Time     `json:"createdAt" yaml:"createdAt"`
	LastActivity    time.Time     `json:"lastActivity" yaml:"lastActivity"`
	StatusUpdatedAt time.Time     `json:"statusUpdatedAt" yaml:"statusUpdatedAt"`
	ParentID        string        `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Project         string        `json:"project,omitempty" yaml:"project,omitempty"`
	Branch          string        `json:"branch,omitempty" yaml:"branch,omitempty"`
	Directory       string        `json:"directory,omitempty" yaml:"directory,omitempty"`
	Usage           *Usage        `json:"usage,omitempty" yaml:"usage,omitempty"`
}

func (s *Session) Key() SessionKey {
	return SessionKey{PeerID: s.PeerID, SessionID: s.ID}
}

// Usage holds the metrics gathered by the detail poll.
type Usage struct {
	InputTokens      int64   `json:"inputTokens" yaml:"inputTokens"`
	OutputTokens     int64   `json:"outputTokens" yaml:"outputTokens"`
	ReasoningTokens  int64   `json:"reasoningTokens" yaml:"reasoningTokens"`
	CacheReadTokens  int64   `json:"cacheReadTokens" yaml:"cacheReadTokens"`
	CacheWriteTokens int64   `json:"cacheWriteTokens" yaml:"cacheWriteTokens"`
	Cost             float64 `json:"cost" yaml:"cost"`
	MessageCount     int     `json:"messageCount" yaml:"messageCount"`
	ModelID          string  `json:"modelId,omitempty" yaml:"modelId,omitempty"`
	ProviderID       string  `json:"providerId,omitempty" yaml:"providerId,omitempty"`
	ContextTokens    int64   `json:"contextTokens" yaml:"contextTokens"`
	ContextLimit     int64   `json:"contextLimit" yaml:"contextLimit"`
}

// SessionNode is one row of the flattened session tree. It is derived from
// the session set on demand and never stored.
type SessionNode struct {
	Session     Session `json:"session" yaml:"session"`
	Depth       int     `json:"depth" yaml:"depth"`
	IsLastChild bool    `json:"isLastChild" yaml:"isLastChild"`
	Prefix      string  `json:"prefix" yaml:"prefix"`
}
