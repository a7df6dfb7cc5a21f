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
	"os"

	"github.com/spf13/viper"
)

const Prefix = "PEERHUB"

type Var struct {
	Key        string // e.g. "PEERHUB_LISTEN"
	ViperKey   string // e.g. "peerhub.hub.listen"
	Default    string // optional
	HasDefault bool
}

func DefineKV(envName, viperKey string, defaultVal ...string) Var {
	v := Var{Key: Prefix + "_" + envName, ViperKey: viperKey}
	if len(defaultVal) > 0 {
		v.Default = defaultVal[0]
		v.HasDefault = true
	}
	return v
}

// ValueOrDefault resolves viper (flag, env or config file) → OS env → default → "".
func (v Var) ValueOrDefault() string {
	if v.ViperKey != "" && viper.IsSet(v.ViperKey) {
		return viper.GetString(v.ViperKey)
	}
	if val, ok := os.LookupEnv(v.Key); ok {
		return val
	}
	if v.HasDefault {
		return v.Default
	}
	return ""
}

// BindEnv is safe if ViperKey is empty: does nothing.
func (v Var) BindEnv() error {
	if v.ViperKey == "" {
		return nil
	}
	return viper.BindEnv(v.ViperKey, v.Key)
}

func (v Var) Set(value string) error { return os.Setenv(v.Key, value) }

func (v *Var) SetDefault(val string) {
	v.Default = val
	v.HasDefault = true
	if v.ViperKey != "" {
		viper.SetDefault(v.ViperKey, val)
	}
}

// Register binds the env name and installs the default in viper.
func (v Var) Register() error {
	if v.HasDefault && v.ViperKey != "" {
		viper.SetDefault(v.ViperKey, v.Default)
	}
	return v.BindEnv()
}

func KV(v Var, value string) string { return v.Key + "=" + value }

// ---- Declare statically ----.
var (
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	CONFIG_FILE = DefineKV("CONFIG_FILE", "peerhub.global.configFile")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	LOG_LEVEL = DefineKV("LOG_LEVEL", "peerhub.global.logLevel", "info")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	LOG_FILE = DefineKV("LOG_FILE", "peerhub.global.logFile")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	CACHE_FILE = DefineKV("CACHE_FILE", "peerhub.global.cacheFile")

	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	LISTEN = DefineKV("LISTEN", "peerhub.hub.listen", "0.0.0.0:4096")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	AUTH_TOKEN = DefineKV("AUTH_TOKEN", "peerhub.hub.authToken")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	MAX_CONCURRENT = DefineKV("MAX_CONCURRENT", "peerhub.hub.maxConcurrent", "10")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	REQUEST_TIMEOUT = DefineKV("REQUEST_TIMEOUT", "peerhub.hub.requestTimeout", "30s")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	RECONNECT_GRACE = DefineKV("RECONNECT_GRACE", "peerhub.hub.reconnectGrace", "1.5s")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	STALE_SWEEP = DefineKV("STALE_SWEEP", "peerhub.hub.staleSweep", "30s")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	BIND_BUDGET = DefineKV("BIND_BUDGET", "peerhub.hub.bindBudget", "10s")

	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	STATUS_INTERVAL = DefineKV("STATUS_INTERVAL", "peerhub.monitor.statusInterval", "5s")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	DETAIL_INTERVAL = DefineKV("DETAIL_INTERVAL", "peerhub.monitor.detailInterval", "10s")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	NOTIFICATIONS = DefineKV("NOTIFICATIONS", "peerhub.monitor.notifications", "true")
	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	NOTIFY_BATCH = DefineKV("NOTIFY_BATCH", "peerhub.monitor.notifyBatch", "500ms")

	//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about this variable
	API_LISTEN = DefineKV("API_LISTEN", "peerhub.api.listen", "127.0.0.1:4097")
)

// All lists every variable so callers can bind them in one pass.
func All() []*Var {
	return []*Var{
		&CONFIG_FILE, &LOG_LEVEL, &LOG_FILE, &CACHE_FILE,
		&LISTEN, &AUTH_TOKEN, &MAX_CONCURRENT, &REQUEST_TIMEOUT,
		&RECONNECT_GRACE, &STALE_SWEEP, &BIND_BUDGET,
		&STATUS_INTERVAL, &DETAIL_INTERVAL, &NOTIFICATIONS, &NOTIFY_BATCH,
		&API_LISTEN,
	}
}
