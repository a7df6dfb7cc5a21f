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

package common

import (
	"strings"
)

// Preview renders at most limit bytes of data as printable ASCII for log
// attributes. Non-printable bytes become '.'.
func Preview(data []byte, limit int) string {
	if len(data) == 0 {
		return "(empty)"
	}
	truncated := false
	if limit > 0 && len(data) > limit {
		data = data[:limit]
		truncated = true
	}
	var b strings.Builder
	for _, c := range data {
		if c >= 32 && c < 127 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}
