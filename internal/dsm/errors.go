package dsm

import (
	"errors"
	"fmt"
)

var (
	// ErrTransmitTimeout is returned by Session.Step when the transceiver does
	// not raise a status bit within the configured poll limit.
	ErrTransmitTimeout = errors.New("transceiver status poll timed out")

	// ErrUnknownProtocol is wrapped by ConfigError for unsupported protocol variants.
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// ConfigError is returned when a session cannot be started from the given
// configuration.
type ConfigError struct {
	msg string
	err error
}

func NewConfigError(msg string) *ConfigError {
	return &ConfigError{msg: msg}
}

func (e *ConfigError) Error() string {
	return e.msg
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

// RuntimeError is returned by Session.Step for faults that abort the current
// hop. The session keeps running after a RuntimeError.
type RuntimeError struct {
	Phase Phase
	err   error
}

func newRuntimeError(phase Phase, err error) *RuntimeError {
	return &RuntimeError{Phase: phase, err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("dsm: %s: %s", e.Phase, e.err)
}

func (e *RuntimeError) Unwrap() error {
	return e.err
}
