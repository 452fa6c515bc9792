package connection

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrClosed              = errors.New("client closed")
	ErrAlreadyClosed       = errors.New("already closed")
	ErrStaleConnection     = errors.New("connection stale (no pong)")
	ErrTransport           = errors.New("transport error")
	ErrAuthentication      = errors.New("authentication failed")
	ErrHandshakeTimeout    = errors.New("handshake timeout")
	ErrMessageTimeout      = errors.New("message timeout")
	ErrConnectionExhausted = errors.New("connection attempts exhausted")
)

// TransportError is a socket-level failure. It triggers reconnection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// AuthenticationError is returned when the hub answers auth_invalid.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return ErrAuthentication.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuthentication.Error(), e.Message)
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// HubError is the error body of an unsuccessful result.
type HubError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub error %s: %s", e.Code, e.Message)
}

// IsTransient reports whether err is worth retrying on the same or a new
// connection. Hub rejections and caller errors are not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrMessageTimeout) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrNotConnected)
}
