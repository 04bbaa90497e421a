package simple_response

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is returned when a ResponseWriter method is
	// called out of order. The exchange must be abandoned.
	ErrProtocolViolation = errors.New("simple_response: protocol violation")

	// ErrSinkWrite matches every *SinkError with errors.Is.
	ErrSinkWrite = errors.New("simple_response: sink write failure")
)

// SinkError reports a failed Write or End on the output sink.
type SinkError struct {
	Op  string // "write" or "end"
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("simple_response: sink %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool { return target == ErrSinkWrite }

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrProtocolViolation}, args...)...)
}
