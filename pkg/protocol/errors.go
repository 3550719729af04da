package protocol

import "errors"

// Frame decoding errors
var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrMissingType     = errors.New("frame has no type")
	ErrUnknownCommand  = errors.New("unknown command type")
	ErrInvalidKind     = errors.New("invalid resource kind")
	ErrInvalidResource = errors.New("resource id must be positive")
	ErrMissingToken    = errors.New("token is required")
)

// Command validation errors
var (
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrContentTooLong = errors.New("content exceeds maximum length")
	ErrInvalidID      = errors.New("id must be positive")
	ErrEmptyReaction  = errors.New("reaction type cannot be empty")
)
