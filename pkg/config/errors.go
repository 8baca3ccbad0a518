package config

import "errors"

var (
	// ErrParsingConfig wraps env parse failures such as a malformed duration.
	ErrParsingConfig   = errors.New("config: cannot parse environment into struct")
	ErrConfigNotLoaded = errors.New("config: type has not been loaded")
	ErrNilPointer      = errors.New("config: nil target")
	// ErrLoadingEnvFile is returned by LoadEnv for unreadable or malformed files.
	ErrLoadingEnvFile = errors.New("config: cannot read env file")
)
