package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection already admitted")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrIdentityConflict    = errors.New("connection already bound to a different user")
)
