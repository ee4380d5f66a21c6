package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// Request is the transport independent request consumed by the handlers.
// Header keys are stored lower-cased; use Header for lookups.
type Request struct {
	PathParameters        map[string]string
	QueryStringParameters map[string]string
	Headers               map[string]string
	Body                  string
	IsBase64Encoded       bool
}

// NewRequest builds a Request, normalizing header names.
func NewRequest(headers, query map[string]string, body string, isBase64 bool) *Request {
	req := &Request{
		QueryStringParameters: query,
		Headers:               make(map[string]string, len(headers)),
		Body:                  body,
		IsBase64Encoded:       isBase64,
	}
	for k, v := range headers {
		req.Headers[strings.ToLower(k)] = v
	}
	return req
}

// Header returns the value of the named header, case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// PathParam returns a path parameter or "" when absent.
func (r *Request) PathParam(name string) string {
	return r.PathParameters[name]
}

// Query returns a query parameter or "" when absent.
func (r *Request) Query(name string) string {
	return r.QueryStringParameters[name]
}

// Payload returns the raw body bytes.
func (r *Request) Payload() ([]byte, error) {
	if r.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(r.Body)
	}
	return []byte(r.Body), nil
}

// Response is the transport independent response produced by the handlers.
type Response struct {
	StatusCode      int
	Headers         map[string]string
	Body            string
	IsBase64Encoded bool
}

// jsonResponse encodes v as the response body.
func jsonResponse(status int, v interface{}) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Internal server error")
	}
	return &Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func errorResponse(status int, msg string) *Response {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return &Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

// binaryResponse carries data base64-encoded in the body.
func binaryResponse(status int, headers map[string]string, data []byte) *Response {
	return &Response{
		StatusCode:      status,
		Headers:         headers,
		Body:            base64.StdEncoding.EncodeToString(data),
		IsBase64Encoded: true,
	}
}

// Bytes returns the response body as it should appear on the wire.
func (r *Response) Bytes() ([]byte, error) {
	if r.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(r.Body)
	}
	return []byte(r.Body), nil
}
