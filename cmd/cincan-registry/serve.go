package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"gitlab.com/cincan/cincan-registry/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool listing and version report over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx, false)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = app.cfg.Port
		}
		handler := server.New(server.Options{
			Reconciler:     app.reconciler,
			AllowedOrigins: app.cfg.AllowedOrigins,
		})

		httpServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		}
		go func() {
			slog.Info("serving version reports", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Fatalf("HTTP server error: %v", err)
			}
		}()

		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"listen port (default from configuration)")
	rootCmd.AddCommand(serveCmd)
}
