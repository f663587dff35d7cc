package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the parameter model and the render pipeline.
var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrDomain       = errors.New("value outside curve domain")
	ErrMissingField = errors.New("missing field")
	ErrArity        = errors.New("wrong number of values")
	ErrTransport    = errors.New("transport failure")
	ErrTimeout      = errors.New("render timed out")
)

// TransportError reports a failed send on the control channel.
type TransportError struct {
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("send %s: %s", e.Address, ErrTransport)
	}
	return fmt.Sprintf("send %s: %v", e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError creates a TransportError
func NewTransportError(address string, err error) *TransportError {
	return &TransportError{Address: address, Err: err}
}

// KeyNotFound wraps ErrKeyNotFound with the offending name.
func KeyNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrKeyNotFound, name)
}

// MissingField wraps ErrMissingField with the offending key.
func MissingField(name string) error {
	return fmt.Errorf("%w: %q", ErrMissingField, name)
}
