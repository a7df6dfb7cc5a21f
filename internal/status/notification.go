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

package status

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eminwux/peerhub/pkg/api"
)

const notificationTimeout = 10 * time.Second

// Notification builds the outward request for a transition, or returns false
// when the transition does not warrant one.
func Notification(tr Transition, sess *api.Session, peer *api.Peer) (api.Notification, bool) {
	var title string
	switch tr {
	case TransitionCompleted:
		title = "Session completed"
	case TransitionPermission:
		title = "Permission required"
	default:
		return api.Notification{}, false
	}

	name := sess.Name
	if name == "" {
		name = sess.ID
	}
	body := name
	if peer != nil {
		dir := peer.WorkingDirectory
		if sess.Directory != "" {
			dir = sess.Directory
		}
		body = fmt.Sprintf("%s\n%s", name, displayName(peer))
		if dir != "" {
			body += " · " + dir
		}
	}

	return api.Notification{
		Title:   title,
		Body:    body,
		URL:     DeepLink(peer, sess.ID),
		Sound:   true,
		Timeout: notificationTimeout,
		Key:     sess.Key(),
	}, true
}

// DeepLink is blank when the peer API is disabled or its URL still carries
// the unresolved placeholder.
func DeepLink(peer *api.Peer, sessionID string) string {
	if peer == nil || !peer.APIEnabled() || strings.Contains(peer.APIURL, api.APIAutoHost) {
		return ""
	}
	return strings.TrimRight(peer.APIURL, "/") + "/session/" + url.PathEscape(sessionID)
}

func displayName(peer *api.Peer) string {
	if peer.DisplayName != "" {
		return peer.DisplayName
	}
	return string(peer.ID)
}
