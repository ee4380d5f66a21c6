package server

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// LambdaHandler adapts API Gateway proxy events to the router
type LambdaHandler struct {
	router *Router
	log    logrus.FieldLogger
}

// NewLambdaHandler creates the Lambda binding for rt
func NewLambdaHandler(rt *Router, log logrus.FieldLogger) *LambdaHandler {
	return &LambdaHandler{router: rt, log: log}
}

// Handle routes a proxy event. Failures are always rendered as responses,
// so the returned error is always nil.
func (h *LambdaHandler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req := NewRequest(event.Headers, event.QueryStringParameters, event.Body, event.IsBase64Encoded)
	for k, v := range event.PathParameters {
		if req.PathParameters == nil {
			req.PathParameters = make(map[string]string, len(event.PathParameters))
		}
		req.PathParameters[k] = v
	}

	resp := h.router.Dispatch(ctx, event.HTTPMethod, event.Path, req)

	h.log.WithFields(logrus.Fields{
		"method":     event.HTTPMethod,
		"path":       event.Path,
		"status":     resp.StatusCode,
		"request_id": event.RequestContext.RequestID,
	}).Debug("Handled event")

	return events.APIGatewayProxyResponse{
		StatusCode:      resp.StatusCode,
		Headers:         resp.Headers,
		Body:            resp.Body,
		IsBase64Encoded: resp.IsBase64Encoded,
	}, nil
}
