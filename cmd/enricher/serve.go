package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ncloudioj/gcp-ingestion/internal/api"
	"github.com/ncloudioj/gcp-ingestion/internal/codec"
	"github.com/ncloudioj/gcp-ingestion/internal/engine"
)

func newServeCmd() *cobra.Command {
	var failuresPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP ingestion API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(failuresPath)
		},
	}
	cmd.Flags().StringVar(&failuresPath, "failures", "", "Write failures of async batches to this record file")
	return cmd
}

func runServe(failuresPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}

	var sink engine.Sink
	if failuresPath != "" {
		out, err := codec.Create(failuresPath)
		if err != nil {
			return err
		}
		defer out.Close()
		w, err := codec.NewRecordWriter(out, codec.FormatJSON)
		if err != nil {
			return err
		}
		sink = &engine.StreamSink{Failures: w}
	}

	eng := engine.New(ctx, a.stage, a.cfg.EngineConfig(), sink, a.log.With().Str("component", "engine").Logger())
	handler := api.New(eng, a.loader, a.cache, a.log.With().Str("component", "api").Logger())

	stopWatch, err := a.loader.Watch()
	if err != nil {
		a.log.Warn().Err(err).Msg("config watcher unavailable (hot-reload disabled)")
	} else {
		defer stopWatch()
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errC:
		eng.Shutdown()
		return err
	}
	a.log.Info().Msg("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown")
	}
	eng.Shutdown()
	a.cache.Reset()
	a.log.Info().Msg("goodbye")
	return nil
}
