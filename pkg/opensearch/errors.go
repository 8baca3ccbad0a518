package opensearch

import "errors"

var (
	ErrNoAddresses       = errors.New("opensearch: no addresses configured")
	ErrConnectionFailed  = errors.New("opensearch: client setup failed")
	ErrHealthcheckFailed = errors.New("opensearch: cluster did not answer")
	// ErrIndexSetup is returned when the event index can neither be found nor created.
	ErrIndexSetup = errors.New("opensearch: event index setup failed")
)
