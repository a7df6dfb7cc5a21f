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
	"errors"
	"testing"

	"github.com/eminwux/peerhub/internal/errdefs"
)

func Test_DecodeHello(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"hello","peerId":"p1","displayName":"laptop","apiUrl":"http://AUTO:4097","workingDirectory":"/src","authToken":"s3cret"}`))
	if err != nil {
		t.Fatalf("expected no error; got: '%v'", err)
	}
	h, ok := f.(*Hello)
	if !ok {
		t.Fatalf("expected '*Hello'; got: '%T'", f)
	}
	if h.PeerID != "p1" || h.AuthToken != "s3cret" || h.APIURL != "http://AUTO:4097" {
		t.Fatalf("unexpected hello: %+v", h)
	}
}

func Test_DecodeHelloWithoutPeerID(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"hello","displayName":"x"}`))
	if !errors.Is(err, errdefs.ErrMalformedFrame) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrMalformedFrame, err)
	}
}

func Test_DecodeResponse(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"id":7,"result":[{"id":"s1"}]}`))
	if err != nil {
		t.Fatalf("expected no error; got: '%v'", err)
	}
	r := f.(*Response)
	if r.ID != 7 || r.Error != nil || string(r.Result) != `[{"id":"s1"}]` {
		t.Fatalf("unexpected response: %+v", r)
	}

	f, err = DecodeFrame([]byte(`{"id":8,"error":{"code":404,"message":"no such session"}}`))
	if err != nil {
		t.Fatalf("expected no error; got: '%v'", err)
	}
	r = f.(*Response)
	if r.Error == nil || r.Error.Code != 404 {
		t.Fatalf("expected error response; got: %+v", r)
	}
	if !errors.Is(r.Error, errdefs.ErrRemote) {
		t.Fatalf("expected RPCError to match ErrRemote")
	}
}

func Test_DecodeGarbage(t *testing.T) {
	for _, in := range []string{`not json`, `{}`, `{"type":"bogus"}`, `{"type":"event"}`, `[]`} {
		if _, err := DecodeFrame([]byte(in)); !errors.Is(err, errdefs.ErrMalformedFrame) {
			t.Fatalf("%s: expected '%v'; got: '%v'", in, errdefs.ErrMalformedFrame, err)
		}
	}
}

func Test_DecodeEvents(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"type":"status-changed","sessionId":"s1","status":"busy"}`, EventStatusChanged},
		{`{"type":"created","session":{"id":"s1","title":"a","created":1,"updated":2}}`, EventSessionCreated},
		{`{"type":"updated","session":{"id":"s1","title":"b","created":1,"updated":3}}`, EventSessionUpdated},
		{`{"type":"deleted","sessionId":"s1"}`, EventSessionDeleted},
		{`{"type":"deleted","session":{"id":"s1"}}`, EventSessionDeleted},
		{`{"type":"permission-required","sessionId":"s1"}`, EventPermissionRequired},
		{`{"type":"peer-disposed"}`, EventPeerDisposed},
		{`{"type":"file-edited","path":"/a"}`, "file-edited"},
	}
	for _, c := range cases {
		ev, err := DecodeEvent([]byte(c.in))
		if err != nil {
			t.Fatalf("%s: expected no error; got: '%v'", c.in, err)
		}
		if ev.EventType() != c.want {
			t.Fatalf("expected '%s'; got: '%s'", c.want, ev.EventType())
		}
	}
}

func Test_DecodeStatusObject(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"status-changed","sessionId":"s1","status":{"type":"retry","attempt":2}}`))
	if err != nil {
		t.Fatalf("expected no error; got: '%v'", err)
	}
	sc := ev.(StatusChanged)
	if sc.Status != "retry" {
		t.Fatalf("expected 'retry'; got: '%s'", sc.Status)
	}
}

func Test_DecodeEventMissingFields(t *testing.T) {
	for _, in := range []string{
		`{"type":"status-changed","status":"busy"}`,
		`{"type":"created"}`,
		`{"type":"permission-required"}`,
		`{"sessionId":"s1"}`,
	} {
		if _, err := DecodeEvent([]byte(in)); !errors.Is(err, errdefs.ErrMalformedFrame) {
			t.Fatalf("%s: expected '%v'; got: '%v'", in, errdefs.ErrMalformedFrame, err)
		}
	}
}

func Test_EncodeRequest(t *testing.T) {
	b, err := EncodeRequest(3, "session.messages", map[string]string{"sessionId": "s1"})
	if err != nil {
		t.Fatalf("expected no error; got: '%v'", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("expected valid json; got: '%v'", err)
	}
	if got["id"].(float64) != 3 || got["method"] != "session.messages" {
		t.Fatalf("unexpected request: %s", b)
	}

	b, _ = EncodeRequest(4, "session.list", nil)
	if string(b) != `{"id":4,"method":"session.list"}` {
		t.Fatalf("expected params omitted; got: '%s'", b)
	}
}
