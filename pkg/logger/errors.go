package logger

import "errors"

var ErrInvalidFormat = errors.New("logger: format must be json or text")
