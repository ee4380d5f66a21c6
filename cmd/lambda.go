package cmd

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/timjbruce/image-service/server"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve API Gateway proxy events as an AWS Lambda function",
	RunE:  runLambda,
}

func runLambda(cmd *cobra.Command, args []string) error {
	srv, err := server.NewServer(context.Background(), config, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create server")
		return err
	}
	defer srv.Close()

	// lambda.Start does not return
	lambda.Start(server.NewLambdaHandler(srv.Router(), logger).Handle)
	return nil
}
