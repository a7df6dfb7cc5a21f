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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eminwux/peerhub/internal/env"
	"github.com/spf13/viper"
)

func Test_LoadConfigReadsFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("peerhub:\n  hub:\n    listen: 127.0.0.1:9000\n    maxConcurrent: 3\n  global:\n    logLevel: debug\n")
	if err := os.WriteFile(cfg, data, 0o600); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	viper.Set(env.CONFIG_FILE.ViperKey, cfg)

	if err := LoadConfig(); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if got := viper.GetString(env.LISTEN.ViperKey); got != "127.0.0.1:9000" {
		t.Fatalf("expected '127.0.0.1:9000'; got: '%s'", got)
	}
	if got := viper.GetInt(env.MAX_CONCURRENT.ViperKey); got != 3 {
		t.Fatalf("expected '3'; got: '%d'", got)
	}
	if got := viper.GetString(env.API_LISTEN.ViperKey); got != "127.0.0.1:4097" {
		t.Fatalf("expected default '127.0.0.1:4097'; got: '%s'", got)
	}
}

func Test_LoadConfigEnvOverridesFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfg, []byte("peerhub:\n  hub:\n    listen: 127.0.0.1:9000\n"), 0o600); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	viper.Set(env.CONFIG_FILE.ViperKey, cfg)
	t.Setenv("PEERHUB_LISTEN", "127.0.0.1:9999")

	if err := LoadConfig(); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	if got := viper.GetString(env.LISTEN.ViperKey); got != "127.0.0.1:9999" {
		t.Fatalf("expected '127.0.0.1:9999'; got: '%s'", got)
	}
}

func Test_LoadConfigBrokenFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfg, []byte("peerhub: [unclosed\n"), 0o600); err != nil {
		t.Fatalf("expected 'nil'; got: '%v'", err)
	}
	viper.Set(env.CONFIG_FILE.ViperKey, cfg)
	if err := LoadConfig(); err == nil {
		t.Fatalf("expected an error for a malformed config file")
	}
}

func Test_RootCmdHasSubcommands(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	root := NewPeerhubRootCmd()
	for _, name := range []string{"serve", "snapshot"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("expected '%s' subcommand; got: '%v'", name, err)
		}
	}
}
