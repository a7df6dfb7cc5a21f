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
	"net"
	"sort"
	"strings"

	"github.com/eminwux/peerhub/pkg/api"
)

// Close codes follow RFC 6455.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// Conn is one live peer connection as seen by the hub.
type Conn interface {
	// Send queues a text frame. It must not block.
	Send(data []byte) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// resolveAPIURL substitutes the observed remote host for the AUTO
// placeholder. A disabled API is left untouched.
func resolveAPIURL(apiURL, remoteAddr string) string {
	if apiURL == "" || apiURL == api.APIDisabled || !strings.Contains(apiURL, api.APIAutoHost) {
		return apiURL
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if host == "" {
		return apiURL
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return strings.ReplaceAll(apiURL, api.APIAutoHost, host)
}

func sortPeers(peers []api.Peer) {
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
}
