package assistant

import "errors"

var (
	// ErrSessionClosed is returned by every operation after Stop.
	ErrSessionClosed = errors.New("session closed")
	// ErrAgentUnavailable means the dialogue agent could not be constructed
	// or was lost. The next command reconstructs it.
	ErrAgentUnavailable = errors.New("dialogue agent unavailable")
	// ErrMalformedCommand rejects parsed commands that are not a JSON object.
	ErrMalformedCommand = errors.New("malformed structured command")
)
