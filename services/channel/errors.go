package channel

import (
	"errors"
	"fmt"
)

// Kind classifies channel failures by how the caller should react.
type Kind string

const (
	// KindAuth: bad or revoked credentials (401/403). Not retried.
	KindAuth Kind = "auth"
	// KindPermission: the channel answered 303, its way of saying the
	// credentials lack access to the resource. Not retried.
	KindPermission Kind = "permission"
	// KindTransient: network failure, timeout, 429 or 5xx. Retried.
	KindTransient Kind = "transient"
	// KindProtocol: any other unexpected status or an undecodable body.
	KindProtocol Kind = "protocol"
)

var (
	ErrUnauthorized           = errors.New("channel: unauthorized")
	ErrInsufficientPermission = errors.New("channel: insufficient permission")
	ErrTransient              = errors.New("channel: transient failure")
	ErrProtocol               = errors.New("channel: protocol error")
	ErrNoMorePages            = errors.New("channel: no more pages")
)

// ChannelError carries the HTTP context of a failed channel call.
type ChannelError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *ChannelError) Error() string {
	msg := fmt.Sprintf("channel %s: %s failure", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Is lets errors.Is match a ChannelError against the kind sentinels.
func (e *ChannelError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindAuth
	case ErrInsufficientPermission:
		return e.Kind == KindPermission
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrProtocol:
		return e.Kind == KindProtocol
	}
	return false
}

func IsAuthError(err error) bool       { return errors.Is(err, ErrUnauthorized) }
func IsPermissionError(err error) bool { return errors.Is(err, ErrInsufficientPermission) }
func IsTransient(err error) bool       { return errors.Is(err, ErrTransient) }

// IsFatal reports errors that must abort a whole sync run.
func IsFatal(err error) bool {
	return IsAuthError(err) || IsPermissionError(err)
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
