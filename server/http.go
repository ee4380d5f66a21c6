package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds request bodies read by the HTTP binding.
const maxBodyBytes = 32 << 20

var errBodyTooLarge = errors.New("request body too large")

// HTTPHandler adapts net/http requests to the router
type HTTPHandler struct {
	router  *Router
	log     logrus.FieldLogger
	maxBody int64
}

// NewHTTPHandler creates the HTTP binding for rt
func NewHTTPHandler(rt *Router, log logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{router: rt, log: log, maxBody: maxBodyBytes}
}

// ServeHTTP implements http.Handler
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.URL.Path == "/health" {
		h.handleHealth(w, r)
		return
	}

	req, err := newRequestFromHTTP(r, h.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		h.log.WithFields(logrus.Fields{
			"path":  r.URL.Path,
			"limit": h.maxBody,
		}).Warn("Rejected oversized request body")
		h.write(w, errorResponse(http.StatusRequestEntityTooLarge, "Request body too large"))
		return
	}
	if err != nil {
		h.log.WithError(err).Warn("Failed to read request body")
		h.write(w, errorResponse(http.StatusBadRequest, "Failed to read request body"))
		return
	}

	resp := h.router.Dispatch(r.Context(), r.Method, r.URL.Path, req)
	h.write(w, resp)

	h.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Handled request")
}

// handleHealth handles the health endpoint
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (h *HTTPHandler) write(w http.ResponseWriter, resp *Response) {
	body, err := resp.Bytes()
	if err != nil {
		h.log.WithError(err).Error("Failed to decode response body")
		resp = errorResponse(http.StatusInternalServerError, "Internal server error")
		body = []byte(resp.Body)
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		h.log.WithError(err).Debug("Failed to write response body")
	}
}

// newRequestFromHTTP builds a Request from r. Only the first value of
// repeated headers and query parameters is kept. Binary bodies are
// carried base64 encoded. Bodies over limit bytes fail with
// errBodyTooLarge.
func newRequestFromHTTP(r *http.Request, limit int64) (*Request, error) {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	query := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	var data []byte
	if r.Body != nil {
		var err error
		data, err = io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > limit {
			return nil, errBodyTooLarge
		}
	}

	if isTextContent(r.Header.Get("Content-Type")) {
		return NewRequest(headers, query, string(data), false), nil
	}
	return NewRequest(headers, query, base64.StdEncoding.EncodeToString(data), true), nil
}

// isTextContent reports whether a body of the given content type can be
// carried as a string. A missing content type is treated as binary since
// uploads default to image/jpeg.
func isTextContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return false
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return true
	}

	switch mediaType {
	case "application/json", "application/xml", "application/x-www-form-urlencoded":
		return true
	}
	return false
}
