package export

import "errors"

var (
	ErrNotConfigured      = errors.New("export: neither a file path nor an S3 bucket is configured")
	ErrInvalidConfig      = errors.New("export: invalid configuration")
	ErrUnknownFormat      = errors.New("export: unknown format")
	ErrNilReport          = errors.New("export: nil report")
	ErrFailedToLoadConfig = errors.New("export: failed to load AWS config")
	ErrFailedToWriteFile  = errors.New("export: failed to write file")

	// S3 classifications
	ErrBucketNotFound     = errors.New("export: bucket not found")
	ErrAccessDenied       = errors.New("export: access denied")
	ErrServiceUnavailable = errors.New("export: service temporarily unavailable")
	ErrOperationTimeout   = errors.New("export: operation timed out")
	ErrOperationCanceled  = errors.New("export: operation canceled")
)
