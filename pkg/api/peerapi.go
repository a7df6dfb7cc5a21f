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

// Methods exposed by a peer's session API. The hub forwards them untouched.
const (
	MethodSessionList     = "session.list"
	MethodSessionGet      = "session.get"
	MethodSessionStatus   = "session.status"
	MethodSessionMessages = "session.messages"
	MethodProviderList    = "provider.list"
)

// SessionInfo is a session as reported by a peer. Times are unix milliseconds.
type SessionInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ParentID  string `json:"parentId,omitempty"`
	Directory string `json:"directory,omitempty"`
	Project   string `json:"project,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Created   int64  `json:"created"`
	Updated   int64  `json:"updated"`
}

type SessionIDParams struct {
	SessionID string `json:"sessionId"`
}

// StatusMap is the result of session.status: session id to upstream token.
type StatusMap map[string]string

type MessageTokens struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	Reasoning  int64 `json:"reasoning"`
	CacheRead  int64 `json:"cacheRead"`
	CacheWrite int64 `json:"cacheWrite"`
}

type MessageInfo struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	ModelID    string        `json:"modelId,omitempty"`
	ProviderID string        `json:"providerId,omitempty"`
	Cost       float64       `json:"cost"`
	Tokens     MessageTokens `json:"tokens"`
	Created    int64         `json:"created"`
}

type ModelInfo struct {
	ID           string `json:"id"`
	ContextLimit int64  `json:"contextLimit"`
}

type ProviderInfo struct {
	ID     string      `json:"id"`
	Models []ModelInfo `json:"models"`
}
