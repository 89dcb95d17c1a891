// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/absim/services/abtest"
	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/telemetry"
	"github.com/AleutianAI/absim/services/abtest/watch"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	addr  string
	watch bool
	start bool
	debug bool
}

func (c *cli) newServeCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulator over HTTP with a WebSocket point stream",
		Long: `Serve the simulator HTTP API under /v1/abtest.

Routes: health, config, playback, start, stop, tallies, points and a
WebSocket stream of points and state changes. Prometheus metrics are
served on /metrics when the metric exporter is "prometheus".

With --watch the config file is reloaded on change: the experiment and
playback sections are applied to the controller, and a running run keeps
going with the new parameters from its next hour.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				c.settings.Server.Addr = opts.addr
			}
			return c.serve(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "Listen address (default: server.addr from config)")
	f.BoolVar(&opts.watch, "watch", false, "Reload the config file when it changes")
	f.BoolVar(&opts.start, "start", false, "Start a run immediately")
	f.BoolVar(&opts.debug, "debug", false, "Run gin in debug mode")
	return cmd
}

func (c *cli) serve(ctx context.Context, opts serveOptions) error {
	log := c.logger.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromSettings(c.settings.Telemetry, version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.MeterName))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	ctrl := engine.NewController(
		engine.WithLogger(log),
		engine.WithPolicy(c.settings.Playback),
	)
	defer ctrl.Close()
	if err := ctrl.Configure(c.settings.Experiment); err != nil {
		return err
	}

	svc := abtest.NewService(ctrl,
		abtest.WithServiceLogger(log),
		abtest.WithMetrics(metrics),
		abtest.WithRateLimit(c.settings.Server.RateLimit, c.settings.Server.Burst),
	)
	defer svc.Close()

	if opts.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := svc.Router()

	var reloader *watch.ConfigWatcher
	if opts.watch {
		if reloader, err = c.newReloader(ctrl, log); err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", c.settings.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.settings.Server.Addr, err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Serving", "addr", listener.Addr().String(), "base_path", abtest.BasePath)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		ctrl.Stop()
		svc.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if reloader != nil {
		g.Go(func() error { return reloader.Run(gctx) })
	}

	if opts.start {
		if err := ctrl.Start(); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newReloader watches the active config file and applies its experiment and
// playback sections to ctrl.
func (c *cli) newReloader(ctrl *engine.Controller, log *slog.Logger) (*watch.ConfigWatcher, error) {
	path := c.configPath
	if path == "" {
		path = config.DefaultFileName
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("--watch needs a config file: %w", err)
	}

	return watch.New(path, func(f config.File) {
		if err := ctrl.Configure(f.Experiment); err != nil {
			log.Warn("Reloaded experiment rejected", "path", path, "error", err)
			return
		}
		if err := ctrl.SetPolicy(f.Playback); err != nil {
			log.Warn("Reloaded playback rejected", "path", path, "error", err)
			return
		}
		log.Info("Config reloaded", "path", path)
	}, watch.Options{Logger: log})
}
