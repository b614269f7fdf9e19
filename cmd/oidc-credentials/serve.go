// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/oidc-credentials/oidc/callback"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 30 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var (
		listen      string
		basePath    string
		driver      string
		redisAddr   string
		cookieCheck bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the authorization endpoints",
		Long: `Serve the endpoints which start an authorization and receive the provider's
callback, along with prometheus metrics at /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("base-path") {
				cfg.BasePath = basePath
			}
			if flags.Changed("store") {
				cfg.Store.Driver = driver
			}
			if flags.Changed("redis-addr") {
				cfg.Store.Redis.Addr = redisAddr
			}
			if flags.Changed("cookie-check") {
				cfg.CookieCheck = cookieCheck
			}
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default \":8080\")")
	cmd.Flags().StringVar(&basePath, "base-path", "", "path the endpoints are served under (default \""+callback.DefaultBasePath+"\")")
	cmd.Flags().StringVar(&driver, "store", "", "credential store driver: memory or redis (default \"memory\")")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "redis address for the redis store")
	cmd.Flags().BoolVar(&cookieCheck, "cookie-check", false, "require the csrf cookie on callbacks")
	return cmd
}

// newRouter mounts the authorization endpoints and metrics.
func newRouter(cfg config, h *callback.Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Mount(cfg.BasePath, h.Routes())
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func runServe(ctx context.Context, cfg config) error {
	logger := newLogger(cfg, os.Stderr)

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("unable to open credential store: %w", err)
	}
	defer s.Close()

	m, err := newManager(cfg, s, logger)
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}
	defer m.Done()

	h, err := callback.NewHandlers(m,
		callback.WithLogger(logger.Named("http")),
		callback.WithCookiePath(cfg.BasePath),
		callback.WithCookieCheck(cfg.CookieCheck),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      newRouter(cfg, h),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Listen, "base_path", cfg.BasePath, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
