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
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/eminwux/peerhub/cmd/peerhub/serve"
	"github.com/eminwux/peerhub/cmd/peerhub/snapshot"
	"github.com/eminwux/peerhub/internal/common"
	"github.com/eminwux/peerhub/internal/env"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewPeerhubRootCmd() *cobra.Command {
	// rootCmd represents the base command when called without any subcommands.
	rootCmd := &cobra.Command{
		Use:   "peerhub",
		Short: "peerhub command line tool",
		Long: `peerhub accepts connections from peers that run agent sessions, calls
into them and keeps one aggregated view of their session trees.

You can see available options and commands with:
  peerhub help

Examples:
  peerhub serve
  peerhub serve --auth-token s3cret --log-level debug
  peerhub snapshot -o yaml
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := LoadConfig(); err != nil {
				return fmt.Errorf("%w: %w", errdefs.ErrConfig, err)
			}
			if err := logging.SetupLogger(
				cmd,
				viper.GetString(env.LOG_FILE.ViperKey),
				viper.GetString(env.LOG_LEVEL.ViperKey),
			); err != nil {
				return err
			}
			watchConfig(cmd.Context())
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c, _ := cmd.Context().Value(logging.CtxCloser).(io.Closer); c != nil {
				_ = c.Close()
			}
			return nil
		},
	}

	setupRootCmd(rootCmd)
	return rootCmd
}

func setupRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(serve.NewServeCmd())
	rootCmd.AddCommand(snapshot.NewSnapshotCmd())

	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.peerhub/config.yaml)")
	_ = viper.BindPFlag(env.CONFIG_FILE.ViperKey, rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(env.LOG_LEVEL.ViperKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file instead of stderr")
	_ = viper.BindPFlag(env.LOG_FILE.ViperKey, rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.PersistentFlags().String("cache-file", "", "Snapshot cache file (default is $HOME/.peerhub/cache.json)")
	_ = viper.BindPFlag(env.CACHE_FILE.ViperKey, rootCmd.PersistentFlags().Lookup("cache-file"))
}

// LoadConfig binds every PEERHUB_* variable and reads config.yaml from the
// --config path or ~/.peerhub. A missing default config file is not an error.
func LoadConfig() error {
	for _, v := range env.All() {
		if err := v.Register(); err != nil {
			return err
		}
	}
	env.CACHE_FILE.SetDefault(common.DefaultCacheFile())

	if configFile := viper.GetString(env.CONFIG_FILE.ViperKey); configFile != "" {
		viper.SetConfigFile(common.ExpandHome(configFile))
	} else {
		dir, err := common.HomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home dir: %w", err)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(dir)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return err // Config file was found but another error was produced
		}
	}
	return nil
}

//nolint:gochecknoglobals // viper keeps one watcher per process
var watchOnce sync.Once

// watchConfig reloads the log level whenever the config file changes.
func watchConfig(ctx context.Context) {
	used := viper.ConfigFileUsed()
	if used == "" {
		return
	}
	logger, err := logging.FromContext(ctx)
	if err != nil {
		return
	}
	levelVar, ok := logging.LevelVarFromContext(ctx)
	if !ok {
		return
	}

	watchOnce.Do(func() {
		viper.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			lvl := logging.ParseLevel(viper.GetString(env.LOG_LEVEL.ViperKey))
			if levelVar.Level() != lvl {
				levelVar.Set(lvl)
				logger.InfoContext(ctx, "log level changed", "level", lvl.String(), "file", filepath.Base(e.Name))
			}
		})
		viper.WatchConfig()
		logger.DebugContext(ctx, "watching config file", "file", used)
	})
}
