package protocol

import "errors"

var (
	ErrEmptyLine    = errors.New("protocol: empty line")
	ErrMissingField = errors.New("protocol: missing field")
	ErrInvalidInt   = errors.New("protocol: invalid integer field")
	ErrInvalidTag   = errors.New("protocol: invalid echo tag")
)
