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

package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eminwux/peerhub/internal/cache"
	"github.com/eminwux/peerhub/internal/env"
	"github.com/eminwux/peerhub/internal/errdefs"
	"github.com/eminwux/peerhub/internal/hub"
	"github.com/eminwux/peerhub/internal/logging"
	"github.com/eminwux/peerhub/internal/monitor"
	"github.com/eminwux/peerhub/internal/notify"
	"github.com/eminwux/peerhub/internal/statusapi"
	"github.com/eminwux/peerhub/internal/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept peer connections and aggregate their sessions",
		Long: `serve listens for peers, keeps their sessions in sync and exposes the
aggregated view on the state API.

Examples:
  peerhub serve
  peerhub serve --listen 0.0.0.0:4096 --auth-token s3cret
  peerhub serve --api-listen "" --log-level debug
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.FromContext(cmd.Context())
			if err != nil {
				return err
			}
			cfg := ConfigFromViper()
			logger.DebugContext(cmd.Context(), "serve parameters",
				"listen", cfg.Listen,
				"api_listen", cfg.APIListen,
				"cache_file", cfg.CacheFile,
				"auth", cfg.Hub.AuthToken != "",
				"max_concurrent", cfg.Hub.MaxConcurrent,
				"request_timeout", cfg.Hub.RequestTimeout,
				"reconnect_grace", cfg.Hub.ReconnectGrace,
				"status_interval", cfg.Monitor.StatusInterval,
				"detail_interval", cfg.Monitor.DetailInterval,
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := Build(ctx, logger, cfg)
			if err != nil {
				return err
			}
			return rt.Run(ctx)
		},
	}
	setupServeCmd(cmd)
	return cmd
}

// bindFlag ties a flag to the viper key of v so the flag wins over env and file.
func bindFlag(fs *pflag.FlagSet, v env.Var, name string) {
	_ = viper.BindPFlag(v.ViperKey, fs.Lookup(name))
}

func setupServeCmd(cmd *cobra.Command) {
	fs := cmd.Flags()
	bind := func(v env.Var, name string) { bindFlag(fs, v, name) }

	fs.String("listen", "", "Address peers connect to (default 0.0.0.0:4096)")
	bind(env.LISTEN, "listen")
	fs.String("auth-token", "", "Token peers must present in their hello")
	bind(env.AUTH_TOKEN, "auth-token")
	fs.Int("max-concurrent", 0, "In-flight calls per peer (default 10)")
	bind(env.MAX_CONCURRENT, "max-concurrent")
	fs.Duration("request-timeout", 0, "Deadline for one peer call (default 30s)")
	bind(env.REQUEST_TIMEOUT, "request-timeout")
	fs.Duration("reconnect-grace", 0, "How long a dropped peer may take to reconnect (default 1.5s)")
	bind(env.RECONNECT_GRACE, "reconnect-grace")
	fs.Duration("stale-sweep", 0, "How long peers restored from the cache wait to reconnect (default 30s)")
	bind(env.STALE_SWEEP, "stale-sweep")
	fs.Duration("bind-budget", 0, "How long to keep retrying the listener bind (default 10s)")
	bind(env.BIND_BUDGET, "bind-budget")
	fs.Duration("status-interval", 0, "Status poll period (default 5s)")
	bind(env.STATUS_INTERVAL, "status-interval")
	fs.Duration("detail-interval", 0, "Detail poll period (default 10s)")
	bind(env.DETAIL_INTERVAL, "detail-interval")
	fs.Bool("notifications", true, "Emit completion and permission notifications")
	bind(env.NOTIFICATIONS, "notifications")
	fs.Duration("notify-batch", 0, "Notification coalescing window (default 500ms)")
	bind(env.NOTIFY_BATCH, "notify-batch")
	fs.String("api-listen", "", "State API address, empty disables it (default 127.0.0.1:4097)")
	bind(env.API_LISTEN, "api-listen")
}

type Config struct {
	Listen      string
	APIListen   string
	CacheFile   string
	BindBudget  time.Duration
	NotifyBatch time.Duration
	Hub         hub.Options
	Monitor     monitor.Options
}

// ConfigFromViper reads the resolved settings. Zero values fall back to
// package defaults.
func ConfigFromViper() Config {
	return Config{
		Listen:      viper.GetString(env.LISTEN.ViperKey),
		APIListen:   viper.GetString(env.API_LISTEN.ViperKey),
		CacheFile:   viper.GetString(env.CACHE_FILE.ViperKey),
		BindBudget:  viper.GetDuration(env.BIND_BUDGET.ViperKey),
		NotifyBatch: viper.GetDuration(env.NOTIFY_BATCH.ViperKey),
		Hub: hub.Options{
			AuthToken:      viper.GetString(env.AUTH_TOKEN.ViperKey),
			MaxConcurrent:  viper.GetInt(env.MAX_CONCURRENT.ViperKey),
			RequestTimeout: viper.GetDuration(env.REQUEST_TIMEOUT.ViperKey),
			ReconnectGrace: viper.GetDuration(env.RECONNECT_GRACE.ViperKey),
			StaleSweep:     viper.GetDuration(env.STALE_SWEEP.ViperKey),
		},
		Monitor: monitor.Options{
			StatusInterval: viper.GetDuration(env.STATUS_INTERVAL.ViperKey),
			DetailInterval: viper.GetDuration(env.DETAIL_INTERVAL.ViperKey),
			Notifications:  viper.GetBool(env.NOTIFICATIONS.ViperKey),
		},
	}
}

// Runtime is a wired hub, monitor and the two listeners.
type Runtime struct {
	logger  *slog.Logger
	Hub     *hub.Hub
	Monitor *monitor.Controller
	Peers   *transport.Server
	API     *statusapi.Server
	batcher *notify.Batcher
}

// Build wires the components and binds the listeners. A fresh cache file
// seeds the hub and the monitor.
func Build(ctx context.Context, logger *slog.Logger, cfg Config) (*Runtime, error) {
	h := hub.New(ctx, logger, cfg.Hub)
	ctrl := monitor.NewController(ctx, logger, h, cfg.Monitor)
	batcher := notify.NewBatcher(ctx, logger, &notify.LogSink{Logger: logger}, cfg.NotifyBatch, cfg.Hub.Clock)
	ctrl.Sink = batcher

	if cfg.CacheFile != "" {
		cf := cache.NewFile(cfg.CacheFile, cfg.Hub.Clock)
		snap, err := cf.Load()
		switch {
		case err == nil:
			h.Restore(snap.Servers)
			ctrl.Restore(snap)
		case errors.Is(err, errdefs.ErrCacheStale):
			logger.InfoContext(ctx, "ignoring stale cache", "path", cf.Path, "error", err)
		default:
			logger.DebugContext(ctx, "no usable cache", "path", cf.Path, "error", err)
		}
		ctrl.Cache = cf
	}

	listen := cfg.Listen
	if listen == "" {
		listen = env.LISTEN.Default
	}
	peers := transport.NewServer(ctx, logger, h, listen, cfg.BindBudget)
	if err := peers.Open(); err != nil {
		_ = h.Close()
		return nil, err
	}

	rt := &Runtime{logger: logger, Hub: h, Monitor: ctrl, Peers: peers, batcher: batcher}
	if cfg.APIListen != "" {
		apiSrv, err := statusapi.NewServer(ctx, logger, cfg.APIListen, ctrl)
		if err == nil {
			err = apiSrv.Open()
		}
		if err != nil {
			_ = peers.Close()
			_ = h.Close()
			return nil, err
		}
		rt.API = apiSrv
		ctrl.Publisher = apiSrv
	}
	return rt, nil
}

// Run serves until ctx is cancelled or a component fails, then shuts every
// component down.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// the peer listener stays up until the hub has rejected its calls
	peersCtx, stopPeers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPeers()

	g.Go(func() error {
		return serve(peersCtx, r.Peers.StartServer)
	})
	if r.API != nil {
		g.Go(func() error {
			return serve(gctx, r.API.StartServer)
		})
	}
	g.Go(func() error {
		err := r.Monitor.Run()
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := r.Monitor.WaitReady(); err == nil {
			r.logger.InfoContext(gctx, "peerhub ready", "peers", r.Peers.Addr(), "api", r.apiAddr())
		}
		<-gctx.Done()
		r.shutdown(context.Cause(gctx), stopPeers)
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(context.Background(), "peerhub stopped with error", "error", err)
		return fmt.Errorf("%w: %w", errdefs.ErrServerExited, err)
	}
	r.logger.InfoContext(context.Background(), "peerhub stopped")
	return nil
}

// shutdown rejects every outstanding and queued call before stopPeers tears
// down the peer listener, then stops the monitor and flushes notifications.
func (r *Runtime) shutdown(reason error, stopPeers func()) {
	r.logger.InfoContext(context.Background(), "shutting down", "reason", reason)
	_ = r.Hub.Close()
	stopPeers()
	_ = r.Monitor.Close(reason)
	_ = r.Monitor.WaitClose()
	r.batcher.Flush()
}

func (r *Runtime) apiAddr() string {
	if r.API == nil {
		return "disabled"
	}
	return r.API.Addr()
}

func serve(ctx context.Context, start func(ctx context.Context, readyCh chan error, doneCh chan error)) error {
	readyCh := make(chan error, 1)
	doneCh := make(chan error, 1)
	go start(ctx, readyCh, doneCh)
	if err := <-readyCh; err != nil {
		return err
	}
	return <-doneCh
}
