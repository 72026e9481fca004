package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a bridge failure for the consuming pipeline.
type Kind int

const (
	// KindNone is reported for a nil error.
	KindNone Kind = iota
	// KindRemoteIO is a transient failure talking to the remote system. Retryable.
	KindRemoteIO
	// KindProtocol is a malformed or unexpected response from the remote system.
	KindProtocol
	// KindCancelled means the consumer abandoned the work.
	KindCancelled
	// KindInterrupted means the host is shutting down.
	KindInterrupted
	// KindContractViolation means a producer or consumer broke the bridge protocol.
	KindContractViolation
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRemoteIO:
		return "remote_io"
	case KindProtocol:
		return "protocol"
	case KindCancelled:
		return "cancelled"
	case KindInterrupted:
		return "interrupted"
	case KindContractViolation:
		return "contract_violation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrAbandoned is returned to producers writing into a stream the consumer has left.
	ErrAbandoned = errors.New("bridge: consumer abandoned")
	// ErrContractViolation matches every error of kind KindContractViolation.
	ErrContractViolation = errors.New("bridge: contract violation")
	// ErrInterrupted is the cause of a task abandoned by Supervisor.Shutdown.
	ErrInterrupted = errors.New("bridge: host shutdown")
	// ErrTruncated is returned by ByteStream.Read when the producer failed mid-stream.
	ErrTruncated = errors.New("bridge: stream truncated")
)

// Error is a classified bridge failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrContractViolation) match violations of any origin.
func (e *Error) Is(target error) bool {
	return target == ErrContractViolation && e.Kind == KindContractViolation
}

// RemoteIO builds a retryable remote failure.
func RemoteIO(message string, cause error) *Error {
	return &Error{Kind: KindRemoteIO, Message: message, Err: cause}
}

// Protocol builds a malformed-response failure.
func Protocol(message string, cause error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Err: cause}
}

func violation(op, message string, cause error) *Error {
	return &Error{Kind: KindContractViolation, Op: op, Message: message, Err: cause}
}

// KindOf reports the classification of err. Unclassified errors are KindRemoteIO.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, ErrInterrupted) {
		return KindInterrupted
	}
	if errors.Is(err, ErrAbandoned) {
		return KindCancelled
	}
	return KindRemoteIO
}

// IsRetryable reports whether the failed operation may succeed on a later attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRemoteIO
}

func isCancellation(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrAbandoned) {
		return true
	}
	var be *Error
	return errors.As(err, &be) && be.Kind == KindCancelled
}
