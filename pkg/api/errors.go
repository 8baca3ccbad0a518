package api

import "errors"

var (
	// ErrStart indicates that the server failed to start.
	ErrStart = errors.New("api: failed to start HTTP server")
	// ErrShutdown indicates that graceful shutdown failed.
	ErrShutdown = errors.New("api: failed to shutdown HTTP server gracefully")

	ErrAlreadyRunning = errors.New("api: server already running")
	ErrNilClient      = errors.New("api: queue client is required")
	ErrEmptyBaseURL   = errors.New("api: base url is required")
	ErrNilSource      = errors.New("api: worker info source is required")
	ErrBadRequest     = errors.New("api: bad request")
	ErrUnavailable    = errors.New("api: component not configured")
	ErrUnexpectedCode = errors.New("api: unexpected response status")
)
