package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timjbruce/image-service/server"
)

var (
	configPath string

	config *server.Config
	logger *logrus.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "image-service",
	Short: "Image storage API backed by S3 and DynamoDB",
	Long: `Image storage API: upload, list, view and delete images.

Image bytes are kept in S3, image records in DynamoDB (or DocumentDB,
or an embedded Badger database for local development).`,
	PersistentPreRunE: initializeApp,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		`path to a YAML config file, or "ssm:<parameter>" for Parameter Store`)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lambdaCmd)
	rootCmd.AddCommand(setupCmd)
}

// initializeApp loads .env, the configuration and the logger
func initializeApp(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv("IMAGE_SERVICE_CONFIG")
	}

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := server.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	config = cfg
	logger = log
	return nil
}
