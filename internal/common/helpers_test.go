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
	"os"
	"path/filepath"
	"testing"
)

func Test_AtomicWriteFileCreatesDirAndReplaces(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "nested", "cache.json")
	if err := AtomicWriteFile(dst, []byte("one"), 0o600); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if err := AtomicWriteFile(dst, []byte("two"), 0o600); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "two" {
		t.Fatalf("expected 'two'; got: '%s' '%v'", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up; got: '%d' entries", len(entries))
	}
}

func Test_Preview(t *testing.T) {
	if got := Preview([]byte("ab\x00cd"), 0); got != "ab.cd" {
		t.Fatalf("expected 'ab.cd'; got: '%s'", got)
	}
	if got := Preview([]byte("abcdef"), 3); got != "abc..." {
		t.Fatalf("expected 'abc...'; got: '%s'", got)
	}
	if got := Preview(nil, 3); got != "(empty)" {
		t.Fatalf("expected '(empty)'; got: '%s'", got)
	}
}
