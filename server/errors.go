package server

import "net/http"

// StatusError is a client-facing failure carrying the status code and the
// message returned in the {"error": ...} body.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

func badRequest(msg string) error {
	return &StatusError{Code: http.StatusBadRequest, Message: msg}
}

func notFound(msg string) error {
	return &StatusError{Code: http.StatusNotFound, Message: msg}
}

func forbidden(msg string) error {
	return &StatusError{Code: http.StatusForbidden, Message: msg}
}
