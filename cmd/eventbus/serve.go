package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/freightopt/eventbus/httpapi"
	"github.com/spf13/cobra"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the cluster, provision topics and serve health, metrics and admin endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(cmd, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr:              a.settings.HTTPAddr,
		Handler:           httpapi.NewRouter(a.client, httpapi.WithLogger(a.logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", srv.Addr).Info("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.settings))
	defer cancel()
	return srv.Shutdown(sctx)
}
