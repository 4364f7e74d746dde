package radio

import (
	"errors"
	"fmt"
)

var (
	ErrNotAssigned = errors.New("channel not assigned")
	ErrNotOpen     = errors.New("channel not open")
	ErrClosed      = errors.New("radio closed")
)

// IsWrongState reports whether err says the channel was not in a state the
// command needs, e.g. closing a channel that was never opened. Transport
// failures are not wrong-state errors.
func IsWrongState(err error) bool {
	if errors.Is(err, ErrNotAssigned) || errors.Is(err, ErrNotOpen) {
		return true
	}
	var ws interface{ WrongState() bool }
	return errors.As(err, &ws) && ws.WrongState()
}

// SetupError is returned when a channel could not be brought up. It is fatal
// to startup.
type SetupError struct {
	Channel uint8
	Op      string
	Err     error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("ant: setup channel %d: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// SendError is returned when a broadcast could not be sent.
type SendError struct {
	Channel uint8
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("ant: send on channel %d: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
