package buspirate

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is not allowed in the
// session's current state.
var ErrInvalidState = errors.New("buspirate: invalid session state")

// ConfigError reports a failed step of the menu handshake. It is fatal for
// the session.
type ConfigError struct {
	Step  int // 1-based step number, 0 when the transport failed to open
	Send  string
	Await string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Step == 0 {
		return fmt.Sprintf("buspirate: open transport: %v", e.Err)
	}
	return fmt.Sprintf("buspirate: config step %d (send %q, await %q): %v", e.Step, e.Send, e.Await, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransferError reports a failed raw read. It only affects that reading; the
// session stays usable.
type TransferError struct {
	N      int
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("buspirate: transfer of %d bytes: %s", e.N, e.Reason)
	}
	return fmt.Sprintf("buspirate: transfer of %d bytes: %s: %v", e.N, e.Reason, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
