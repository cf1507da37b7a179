package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/immersive/internal/api"
	"github.com/bhandras/immersive/internal/config"
	"github.com/bhandras/immersive/internal/observability"
	"github.com/bhandras/immersive/internal/runtimebridge"
	"github.com/bhandras/immersive/internal/session"
	"github.com/bhandras/immersive/internal/storage"
	"github.com/bhandras/immersive/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// readyMaxAge bounds how old a signed ready broadcast may be.
const readyMaxAge = 30 * time.Second

func newServeCommand(root *rootCommand) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session controller and its control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Trace {
		tp, err := observability.NewTracerProvider("immersived", Version, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to start tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("tracer shutdown: %v", err)
			}
		}()
	}

	logger.Infof("Opening database: %s", cfg.DatabasePath)
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	bridge, err := dialRuntime(cfg)
	if err != nil {
		return err
	}
	defer bridge.Close()

	hub := api.NewHub(nil)
	shell := api.NewShell(hub)

	ctrl := session.New(session.Deps{
		Runtime:   bridge,
		Tabs:      shell,
		Bridge:    shell,
		Prompts:   shell,
		Feedback:  shell.Feedback(),
		Installer: shell,
		Store:     store,
	}, session.Options{
		EntryTimeout:      cfg.EntryTimeout,
		GuardTTL:          cfg.RaceGuardTTL,
		FeedbackFrequency: cfg.FeedbackFrequency,
		MinRuntimeVersion: cfg.MinRuntimeVersion,
		DoffRequired:      cfg.DoffRequired,
		Strict:            cfg.Strict,
	})
	bridge.Bind(ctrl)
	ctrl.Start()
	defer ctrl.Stop()

	srv := api.NewServer(ctrl, shell, hub, api.Options{AllowedOrigins: cfg.AllowedOrigins})
	srv.Start()

	logger.Infof("Runtime service: %s", cfg.RuntimeURL)
	return srv.Serve(ctx, cfg.Addr)
}

func dialRuntime(cfg *config.Config) (*runtimebridge.Client, error) {
	pub, err := cfg.PublicKey()
	if err != nil {
		return nil, err
	}
	var verifier *runtimebridge.Verifier
	if pub != nil {
		verifier = runtimebridge.NewVerifier(pub, readyMaxAge)
	}

	client := runtimebridge.NewClient(runtimebridge.Config{
		URL:      cfg.RuntimeURL,
		Token:    cfg.RuntimeToken,
		Verifier: verifier,
	})
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to runtime service: %w", err)
	}
	return client, nil
}
