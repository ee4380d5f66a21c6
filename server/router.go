package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// HandlerFunc handles a normalized request.
type HandlerFunc func(ctx context.Context, req *Request) *Response

type route struct {
	method   string
	segments []string
	handler  HandlerFunc
}

// Router dispatches requests by method and path pattern. Patterns are
// slash separated; a segment written as {name} matches any non-empty
// segment and is exposed as a path parameter.
type Router struct {
	routes []route
	log    logrus.FieldLogger
}

// NewRouter creates an empty router
func NewRouter(log logrus.FieldLogger) *Router {
	return &Router{log: log}
}

// Handle registers handler for method and pattern.
func (rt *Router) Handle(method, pattern string, handler HandlerFunc) {
	rt.routes = append(rt.routes, route{
		method:   method,
		segments: splitPath(pattern),
		handler:  handler,
	})
}

// Match finds the handler for method and path along with the path
// parameters it captured.
func (rt *Router) Match(method, path string) (HandlerFunc, map[string]string, bool) {
	parts := splitPath(path)
	for _, r := range rt.routes {
		if r.method != method || len(r.segments) != len(parts) {
			continue
		}
		params, ok := matchSegments(r.segments, parts)
		if ok {
			return r.handler, params, true
		}
	}
	return nil, nil, false
}

// Dispatch routes req and always returns a response. Handler panics are
// turned into 500 responses.
func (rt *Router) Dispatch(ctx context.Context, method, path string, req *Request) (resp *Response) {
	handler, params, ok := rt.Match(method, path)
	if !ok {
		return errorResponse(http.StatusNotFound, "Not found")
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string, len(params))
	}
	for k, v := range params {
		req.PathParameters[k] = v
	}

	defer func() {
		if p := recover(); p != nil {
			rt.log.WithFields(logrus.Fields{
				"method": method,
				"path":   path,
				"panic":  p,
			}).Error("Handler panicked")
			resp = errorResponse(http.StatusInternalServerError, "Internal server error")
		}
	}()

	return handler(ctx, req)
}

func matchSegments(pattern, parts []string) (map[string]string, bool) {
	params := map[string]string{}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if parts[i] == "" {
				return nil, false
			}
			params[seg[1:len(seg)-1]] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
