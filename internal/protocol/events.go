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

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/pkg/api"
)

const (
	EventStatusChanged      = "status-changed"
	EventSessionCreated     = "created"
	EventSessionUpdated     = "updated"
	EventSessionDeleted     = "deleted"
	EventPermissionRequired = "permission-required"
	EventPeerDisposed       = "peer-disposed"
)

type StatusChanged struct {
	SessionID string
	Status    string
}

type SessionCreated struct {
	Session api.SessionInfo
}

type SessionUpdated struct {
	Session api.SessionInfo
}

type SessionDeleted struct {
	SessionID string
}

type PermissionRequired struct {
	SessionID string
}

type PeerDisposed struct{}

// UnknownEvent keeps event types this hub does not understand so callers can
// log them.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (StatusChanged) EventType() string      { return EventStatusChanged }
func (SessionCreated) EventType() string     { return EventSessionCreated }
func (SessionUpdated) EventType() string     { return EventSessionUpdated }
func (SessionDeleted) EventType() string     { return EventSessionDeleted }
func (PermissionRequired) EventType() string { return EventPermissionRequired }
func (PeerDisposed) EventType() string       { return EventPeerDisposed }
func (e UnknownEvent) EventType() string     { return e.Type }

type rawEvent struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId"`
	Status    statusToken      `json:"status"`
	Session   *api.SessionInfo `json:"session"`
}

// statusToken accepts both "busy" and {"type":"busy"}.
type statusToken string

func (s *statusToken) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = statusToken(str)
		return nil
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*s = statusToken(obj.Type)
	return nil
}

func DecodeEvent(data []byte) (api.PeerEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrMalformedFrame, err)
	}

	switch raw.Type {
	case EventStatusChanged:
		if raw.SessionID == "" {
			return nil, missing(raw.Type, "sessionId")
		}
		return StatusChanged{SessionID: raw.SessionID, Status: string(raw.Status)}, nil

	case EventSessionCreated, EventSessionUpdated:
		if raw.Session == nil || raw.Session.ID == "" {
			return nil, missing(raw.Type, "session")
		}
		if raw.Type == EventSessionCreated {
			return SessionCreated{Session: *raw.Session}, nil
		}
		return SessionUpdated{Session: *raw.Session}, nil

	case EventSessionDeleted, EventPermissionRequired:
		id := raw.SessionID
		if id == "" && raw.Session != nil {
			id = raw.Session.ID
		}
		if id == "" {
			return nil, missing(raw.Type, "sessionId")
		}
		if raw.Type == EventSessionDeleted {
			return SessionDeleted{SessionID: id}, nil
		}
		return PermissionRequired{SessionID: id}, nil

	case EventPeerDisposed:
		return PeerDisposed{}, nil

	case "":
		return nil, missing("event", "type")

	default:
		return UnknownEvent{Type: raw.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func missing(eventType, field string) error {
	return fmt.Errorf("%w: %s event without %s", errdefs.ErrMalformedFrame, eventType, field)
}
