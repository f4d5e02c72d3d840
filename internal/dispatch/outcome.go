package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Dispatch errors. ApplicationError carries agent-supplied detail and is a
// distinct type.
var (
	ErrTimeout   = errors.New("dispatch: timeout")
	ErrTransport = errors.New("dispatch: transport error")
)

// Kind classifies the outcome of a single exchange with an agent. The set is
// closed: every Outcome has exactly one of these kinds.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindTransportError
	KindApplicationError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindTransportError:
		return "transport_error"
	case KindApplicationError:
		return "application_error"
	default:
		return "unknown"
	}
}

// Transient reports whether the kind is eligible for retry.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindTransportError
}

// ApplicationError is returned when an agent was reached and rejected the
// request.
type ApplicationError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ApplicationError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("dispatch: application error: %s", e.Message)
	}
	return fmt.Sprintf("dispatch: application error %s: %s", e.Code, e.Message)
}

// Outcome is the classified result of one exchange. Data is set for
// KindSuccess; Err is set for every other kind.
type Outcome struct {
	Kind Kind
	Data json.RawMessage
	Err  error
}

// Success returns a KindSuccess outcome.
func Success(data json.RawMessage) Outcome {
	return Outcome{Kind: KindSuccess, Data: data}
}

// Timeout returns a KindTimeout outcome wrapping cause.
func Timeout(cause error) Outcome {
	if cause == nil {
		return Outcome{Kind: KindTimeout, Err: ErrTimeout}
	}
	return Outcome{Kind: KindTimeout, Err: fmt.Errorf("%w: %v", ErrTimeout, cause)}
}

// Transport returns a KindTransportError outcome wrapping cause.
func Transport(cause error) Outcome {
	if cause == nil {
		return Outcome{Kind: KindTransportError, Err: ErrTransport}
	}
	return Outcome{Kind: KindTransportError, Err: fmt.Errorf("%w: %v", ErrTransport, cause)}
}

// Application returns a KindApplicationError outcome.
func Application(code, message string) Outcome {
	return Outcome{Kind: KindApplicationError, Err: &ApplicationError{Code: code, Message: message}}
}

// Code returns the application error code, if any.
func (o Outcome) Code() string {
	var appErr *ApplicationError
	if errors.As(o.Err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Attempt records one network exchange with an agent.
type Attempt struct {
	Agent    string
	Start    time.Time
	Duration time.Duration
	Outcome  Outcome
}
