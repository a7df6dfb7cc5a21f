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
	"time"

	"github.com/eminwux/peerhub/pkg/api"
)

type Transition int

const (
	TransitionNone Transition = iota
	TransitionCompleted
	TransitionPermission
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionCompleted:
		return "completed"
	case TransitionPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Canonicalize maps an upstream status token into the closed status set.
// Only exact tokens match; anything else is idle.
func Canonicalize(token string) api.SessionStatus {
	switch s := api.SessionStatus(token); s {
	case api.StatusIdle,
		api.StatusBusy,
		api.StatusRetry,
		api.StatusWaitingForPermission,
		api.StatusCompleted,
		api.StatusError,
		api.StatusAborted:
		return s
	default:
		return api.StatusIdle
	}
}

// Apply stores the canonical form of token on sess when it differs from the
// current status and reports whether that change completed a running session.
func Apply(sess *api.Session, token string, now time.Time) (bool, Transition) {
	next := Canonicalize(token)
	prev := sess.Status
	if next == prev {
		return false, TransitionNone
	}
	sess.Status = next
	sess.StatusUpdatedAt = now
	if isRunning(prev) && isFinished(next) {
		return true, TransitionCompleted
	}
	return true, TransitionNone
}

// RequirePermission forces the waiting status regardless of the current one.
func RequirePermission(sess *api.Session, now time.Time) Transition {
	if sess.Status != api.StatusWaitingForPermission {
		sess.StatusUpdatedAt = now
	}
	sess.Status = api.StatusWaitingForPermission
	return TransitionPermission
}

func isRunning(s api.SessionStatus) bool {
	return s == api.StatusBusy || s == api.StatusRetry
}

func isFinished(s api.SessionStatus) bool {
	return s == api.StatusIdle || s == api.StatusCompleted
}
