// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package ollama

import (
	"context"
	"errors"
	"net"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrKind categorizes client errors for handling.
type ErrKind int

const (
	ErrKindUnknown ErrKind = iota

	// ErrKindNetwork covers connection refused/reset and other transport
	// failures. Transient: retried.
	ErrKindNetwork

	// ErrKindTimeout means the configured deadline elapsed, either for the
	// whole roundtrip or for the gap between stream chunks. Transient:
	// retried.
	ErrKindTimeout

	// ErrKindServer means the server answered with a non-2xx status. Not
	// retried; Status and Body carry the server's reply.
	ErrKindServer

	// ErrKindDecode means the response body had a malformed or unexpected
	// JSON shape. Not retried.
	ErrKindDecode

	// ErrKindEmptyInput means the caller supplied no input. Raised locally
	// before any network I/O.
	ErrKindEmptyInput

	// ErrKindConfig means builder validation rejected the configuration.
	ErrKindConfig
)

// String returns the kind name for logs and error text.
func (k ErrKind) String() string {
	switch k {
	case ErrKindNetwork:
		return "network"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindServer:
		return "server"
	case ErrKindDecode:
		return "decode"
	case ErrKindEmptyInput:
		return "empty input"
	case ErrKindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ClientError is the error type returned by all operations in this package.
type ClientError struct {
	Kind    ErrKind
	Op      string // operation that failed, e.g. "chat.invoke"
	Message string
	Cause   error

	// Status and Body are set for ErrKindServer.
	Status int
	Body   string

	// RequestID identifies the logical call the error belongs to.
	RequestID string
}

func (e *ClientError) Error() string {
	msg := e.Op + ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// retryable reports whether the error kind is transient.
func (e *ClientError) retryable() bool {
	return e.Kind == ErrKindNetwork || e.Kind == ErrKindTimeout
}

// =============================================================================
// KIND PREDICATES
// =============================================================================

func kindOf(err error) ErrKind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindUnknown
}

// IsNetwork reports whether err is a transient connection failure.
func IsNetwork(err error) bool { return kindOf(err) == ErrKindNetwork }

// IsTimeout reports whether err is a deadline-exceeded failure.
func IsTimeout(err error) bool { return kindOf(err) == ErrKindTimeout }

// IsServer reports whether err is a non-2xx server response.
func IsServer(err error) bool { return kindOf(err) == ErrKindServer }

// IsDecode reports whether err is a malformed-response failure.
func IsDecode(err error) bool { return kindOf(err) == ErrKindDecode }

// IsEmptyInput reports whether err is a local empty-input validation failure.
func IsEmptyInput(err error) bool { return kindOf(err) == ErrKindEmptyInput }

// IsConfig reports whether err is a builder validation failure.
func IsConfig(err error) bool { return kindOf(err) == ErrKindConfig }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// classifyTransport maps an http.Client.Do failure onto the taxonomy.
func classifyTransport(op, requestID string, err error) *ClientError {
	kind := ErrKindNetwork
	msg := "request failed"

	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrKindTimeout
		msg = "request timed out"
	case errors.As(err, &ne) && ne.Timeout():
		kind = ErrKindTimeout
		msg = "request timed out"
	case errors.Is(err, context.Canceled):
		kind = ErrKindNetwork
		msg = "request canceled"
	}

	return &ClientError{
		Kind:      kind,
		Op:        op,
		Message:   msg,
		Cause:     err,
		RequestID: requestID,
	}
}
