package client

import "errors"

// Manager errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrSendTimeout  = errors.New("send timed out")
	ErrEncode       = errors.New("cannot encode command")
)
