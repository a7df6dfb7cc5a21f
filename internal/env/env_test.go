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

package env

import (
	"testing"

	"github.com/spf13/viper"
)

func Test_ValueOrDefaultPrecedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	v := DefineKV("TEST_VALUE", "peerhub.test.value", "fallback")
	if got := v.ValueOrDefault(); got != "fallback" {
		t.Fatalf("expected 'fallback'; got: '%s'", got)
	}

	t.Setenv(v.Key, "from-env")
	if got := v.ValueOrDefault(); got != "from-env" {
		t.Fatalf("expected 'from-env'; got: '%s'", got)
	}

	viper.Set(v.ViperKey, "from-viper")
	if got := v.ValueOrDefault(); got != "from-viper" {
		t.Fatalf("expected 'from-viper'; got: '%s'", got)
	}
}

func Test_RegisterBindsEnvAndDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	v := DefineKV("TEST_LISTEN", "peerhub.test.listen", "0.0.0.0:1")
	if err := v.Register(); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if got := viper.GetString(v.ViperKey); got != "0.0.0.0:1" {
		t.Fatalf("expected '0.0.0.0:1'; got: '%s'", got)
	}

	t.Setenv("PEERHUB_TEST_LISTEN", "127.0.0.1:2")
	if got := viper.GetString(v.ViperKey); got != "127.0.0.1:2" {
		t.Fatalf("expected '127.0.0.1:2'; got: '%s'", got)
	}
}

func Test_AllKeysArePrefixed(t *testing.T) {
	seen := map[string]bool{}
	for _, v := range All() {
		if len(v.Key) <= len(Prefix) || v.Key[:len(Prefix)] != Prefix {
			t.Fatalf("expected '%s' prefix; got: '%s'", Prefix, v.Key)
		}
		if seen[v.ViperKey] {
			t.Fatalf("duplicate viper key '%s'", v.ViperKey)
		}
		seen[v.ViperKey] = true
	}
	if KV(LISTEN, "x") != "PEERHUB_LISTEN=x" {
		t.Fatalf("expected 'PEERHUB_LISTEN=x'; got: '%s'", KV(LISTEN, "x"))
	}
}
