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

// Package protocol decodes the JSON text frames exchanged with peers into
// typed variants and encodes the requests the hub sends back.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/pkg/api"
)

const (
	FrameHello   = "hello"
	FrameEvent   = "event"
	FrameGoodbye = "goodbye"
)

// Frame is one of Hello, EventFrame, Goodbye or Response.
type Frame interface {
	isFrame()
}

type Hello struct {
	PeerID           api.PeerID `json:"peerId"`
	DisplayName      string     `json:"displayName"`
	APIURL           string     `json:"apiUrl,omitempty"`
	Project          string     `json:"project,omitempty"`
	Branch           string     `json:"branch,omitempty"`
	WorkingDirectory string     `json:"workingDirectory"`
	AuthToken        string     `json:"authToken,omitempty"`
}

type EventFrame struct {
	Event api.PeerEvent
}

type Goodbye struct{}

// Response answers the request with the same ID. Exactly one of Result and
// Error is meaningful.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *errdefs.RPCError
}

func (*Hello) isFrame()      {}
func (*EventFrame) isFrame() {}
func (*Goodbye) isFrame()    {}
func (*Response) isFrame()   {}

type envelope struct {
	Type   string            `json:"type"`
	ID     *uint64           `json:"id"`
	Result json.RawMessage   `json:"result"`
	Error  *errdefs.RPCError `json:"error"`
	Event  json.RawMessage   `json:"event"`
}

// DecodeFrame classifies a peer frame. Frames carrying an id and no type are
// responses; everything else is dispatched on the type tag.
func DecodeFrame(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrMalformedFrame, err)
	}

	if env.Type == "" {
		if env.ID == nil {
			return nil, fmt.Errorf("%w: frame has neither type nor id", errdefs.ErrMalformedFrame)
		}
		return &Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil
	}

	switch env.Type {
	case FrameHello:
		var h Hello
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("%w: %w", errdefs.ErrMalformedFrame, err)
		}
		if h.PeerID == "" {
			return nil, fmt.Errorf("%w: hello without peerId", errdefs.ErrMalformedFrame)
		}
		return &h, nil

	case FrameEvent:
		if len(env.Event) == 0 {
			return nil, fmt.Errorf("%w: event frame without event", errdefs.ErrMalformedFrame)
		}
		ev, err := DecodeEvent(env.Event)
		if err != nil {
			return nil, err
		}
		return &EventFrame{Event: ev}, nil

	case FrameGoodbye:
		return &Goodbye{}, nil

	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", errdefs.ErrMalformedFrame, env.Type)
	}
}

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

func EncodeRequest(id uint64, method string, params any) ([]byte, error) {
	b, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode request %d %s: %w", id, method, err)
	}
	return b, nil
}

// DecodeResult unmarshals a response result into out. A JSON null result
// leaves out untouched.
func DecodeResult(raw json.RawMessage, out any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrMalformedFrame, err)
	}
	return nil
}
