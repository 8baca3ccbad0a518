package redis

import "errors"

var (
	// ErrNoURL is returned by Connect when TASKQ_REDIS_URL is empty.
	ErrNoURL             = errors.New("redis: no connection URL configured")
	ErrInvalidURL        = errors.New("redis: invalid connection URL")
	ErrNotReady          = errors.New("redis: server did not answer before the connect deadline")
	ErrHealthcheckFailed = errors.New("redis: ping failed")
)
