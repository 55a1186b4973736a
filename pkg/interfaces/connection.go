package interfaces

// Connection is one live client socket as seen by the registry and the
// broadcaster.
// ARCHITECTURAL DISCOVERY: the chat core never touches the transport directly,
// so tests substitute in-memory connections
type Connection interface {
	// ID returns the transport-assigned connection id. It identifies the
	// socket, never the user.
	ID() string

	// Send enqueues an encoded frame without blocking. A full or closed
	// buffer returns an error and the frame is dropped.
	Send(frame []byte) error

	// Close tears down the transport. Safe to call more than once.
	Close() error
}
