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

	"github.com/spf13/cobra"

	"github.com/example/babeldoc-web/api-go/internal/auth"
	"github.com/example/babeldoc-web/api-go/internal/blob"
	"github.com/example/babeldoc-web/api-go/internal/broadcast"
	"github.com/example/babeldoc-web/api-go/internal/engine"
	"github.com/example/babeldoc-web/api-go/internal/history"
	"github.com/example/babeldoc-web/api-go/internal/httpapi"
	"github.com/example/babeldoc-web/api-go/internal/jobs"
	"github.com/example/babeldoc-web/api-go/internal/registry"
	"github.com/example/babeldoc-web/api-go/internal/sanitize"
	"github.com/example/babeldoc-web/api-go/internal/sweep"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.cfg.RequireSecret(); err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(a.cfg.Auth.Secret)
	if err != nil {
		return err
	}

	for _, dir := range []string{a.cfg.UploadsDir, a.cfg.OutputsDir, a.cfg.GlossariesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	reg := registry.New()
	hist := history.New(st, reg, sanitize.New(a.cfg.SecretKeys...), a.log)
	bc := broadcast.New(a.log)
	uploads := blob.LocalFS{Root: a.cfg.UploadsDir}
	outputs := blob.LocalFS{Root: a.cfg.OutputsDir}

	svc := jobs.New(jobs.Options{
		Engine: engine.Command{
			Path: a.cfg.Engine.Command,
			Args: a.cfg.Engine.Args,
			Log:  a.log,
		},
		Registry:    reg,
		History:     hist,
		Broadcaster: bc,
		Uploads:     uploads,
		Glossaries:  blob.LocalFS{Root: a.cfg.GlossariesDir},
		Outputs:     outputs,
		EvictAfter:  a.cfg.EvictAfter,
		MaxDuration: a.cfg.Engine.MaxDuration,
		Log:         a.log,
	})

	server := httpapi.Server{
		Jobs:        svc,
		Sweeper:     sweep.Sweeper{Records: hist, Outputs: outputs, Ext: a.cfg.ArtifactExt, Log: a.log},
		Broadcaster: bc,
		Auth:        verifier,
		Uploads:     uploads,
		Log:         a.log,
	}
	httpSrv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Addr).Info("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("jobs still running at exit")
	}
	return nil
}
