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

package errdefs

import (
	"errors"
	"fmt"
)

var (
	ErrFuncNotSet      = errors.New("function not set")
	ErrContextDone     = errors.New("context has been cancelled")
	ErrOnClose         = errors.New("error closing")
	ErrCloseReq        = errors.New("close requested")
	ErrConfig          = errors.New("config error")
	ErrLoggerNotFound  = errors.New("logger not found in context")
	ErrInvalidFlag     = errors.New("invalid flag usage")
	ErrStartHub        = errors.New("error starting hub")
	ErrStartAPIServer  = errors.New("error starting state API server")
	ErrServerExited    = errors.New("server exited with error")
	ErrSessionNotFound = errors.New("session not found")
	ErrPeerNotFound    = errors.New("peer not found")

	ErrAuthRejected     = errors.New("unauthorized")
	ErrPeerUnavailable  = errors.New("peer unavailable")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrPeerDisconnected = errors.New("peer disconnected")
	ErrListenBindFailed = errors.New("could not bind listener")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrShuttingDown     = errors.New("hub is shutting down")
	ErrRemote           = errors.New("peer returned an error")
	ErrHandshake        = errors.New("handshake failed")

	ErrCacheRead  = errors.New("could not read cache file")
	ErrCacheWrite = errors.New("could not write cache file")
	ErrCacheStale = errors.New("cache file is stale")
	ErrOutputFmt  = errors.New("unsupported output format")
)

// RPCError is the error object a peer returns in a response frame.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: code=%d message=%s", ErrRemote, e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool {
	return target == ErrRemote
}
