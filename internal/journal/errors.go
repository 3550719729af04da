package journal

import "errors"

var (
	ErrClosed            = errors.New("journal is closed")
	ErrWriteTimeout      = errors.New("journal write timed out")
	ErrRecordingNotFound = errors.New("recording not found")
	ErrInvalidDirection  = errors.New("direction must be 'in' or 'out'")
	ErrInvalidRecording  = errors.New("recording id is required")
)
