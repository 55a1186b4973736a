package hub

import "errors"

var (
	ErrHubStopped  = errors.New("hub is stopped")
	ErrEncodeFrame = errors.New("failed to encode frame")
)
