package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timjbruce/image-service/server"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the S3 bucket and the image table or collection",
	Long: `Create the S3 bucket and the image table or collection used by the
configured metadata backend. Existing resources are left untouched.`,
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// NewServer provisions on its own when auto_provision is set
	cfg := *config
	cfg.AWS.AutoProvision = false

	srv, err := server.NewServer(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Setup(ctx); err != nil {
		logger.WithError(err).Error("Setup failed")
		return err
	}

	logger.WithFields(logrus.Fields{
		"bucket":  cfg.AWS.S3.BucketName,
		"backend": cfg.Metadata.Backend,
	}).Info("Setup complete")
	return nil
}
