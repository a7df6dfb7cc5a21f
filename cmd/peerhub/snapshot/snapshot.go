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

package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eminwux/peerhub/internal/cache"
	"github.com/eminwux/peerhub/internal/discovery"
	"github.com/eminwux/peerhub/internal/env"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const outputFormat = "peerhub.snapshot.output"

func NewSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot [SESSION]",
		Aliases: []string{"snap", "ls"},
		Short:   "Print the last saved peers and session trees",
		Long: `snapshot reads the cache file written by a running or stopped hub and
prints every peer with its session tree. With a SESSION argument, either
peer:session or a bare session id, it prints that session only.

Examples:
  peerhub snapshot
  peerhub snapshot -o yaml
  peerhub snapshot laptop:ses_01
`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := viper.GetString(outputFormat)
			if err := discovery.ValidFormat(format); err != nil {
				return fmt.Errorf("%w: %w", errdefs.ErrInvalidFlag, err)
			}
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return run(cmd, cmd.OutOrStdout(), cmd.ErrOrStderr(), format, ref)
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output format: json|yaml (default: human-readable)")
	_ = viper.BindPFlag(outputFormat, cmd.Flags().Lookup("output"))
	_ = cmd.RegisterFlagCompletionFunc(
		"output",
		func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return []string{discovery.FormatJSON, discovery.FormatYAML}, cobra.ShellCompDirectiveNoFileComp
		},
	)
	return cmd
}

func run(cmd *cobra.Command, stdout, stderr io.Writer, format, ref string) error {
	logger, err := logging.FromContext(cmd.Context())
	if err != nil {
		return err
	}
	path := viper.GetString(env.CACHE_FILE.ViperKey)
	logger.DebugContext(cmd.Context(), "snapshot command invoked", "cache_file", path, "format", format, "session", ref)

	snap, err := discovery.LoadSnapshot(cmd.Context(), logger, cache.NewFile(path, nil))
	switch {
	case err == nil:
	case errors.Is(err, errdefs.ErrCacheStale):
		fmt.Fprintf(stderr, "warning: %v\n", err)
	default:
		fmt.Fprintln(stderr, "Could not read the snapshot; is the hub running?")
		return err
	}

	now := time.Now()
	if ref != "" {
		sess, errFind := discovery.FindSession(snap, ref)
		if errFind != nil {
			return errFind
		}
		return discovery.PrintSession(stdout, sess, format, now)
	}
	return discovery.PrintSnapshot(stdout, snap, format, terminalWidth(stdout), now)
}

// terminalWidth is the column count when w is a terminal, else 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}
