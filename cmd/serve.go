package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timjbruce/image-service/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the gRPC health service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create server")
		return err
	}
	defer srv.Close()

	logger.Info("Starting image service")
	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped")
		return err
	}

	logger.Info("Server stopped")
	return nil
}
