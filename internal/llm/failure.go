package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Class is the failure category that drives retry backoff.
type Class string

const (
	ClassConnection      Class = "connection"
	ClassTimeout         Class = "timeout"
	ClassRateLimit       Class = "rate_limit"
	ClassServerError     Class = "server_error"
	ClassClientError     Class = "client_error"
	ClassContentTooShort Class = "content_too_short"
	ClassOther           Class = "other"
)

// Classes lists every category, in a stable order for metrics and reports.
var Classes = []Class{
	ClassConnection, ClassTimeout, ClassRateLimit, ClassServerError,
	ClassClientError, ClassContentTooShort, ClassOther,
}

// Failure is a classified generation failure.
type Failure struct {
	Class      Class
	StatusCode int
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", f.Class, f.StatusCode, truncate(msg, 200))
	}
	return fmt.Sprintf("%s: %s", f.Class, truncate(msg, 200))
}

func (f *Failure) Unwrap() error { return f.Err }

// StatusClass maps a non-2xx HTTP status to a class.
func StatusClass(code int) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ClassTimeout
	case code >= 500:
		return ClassServerError
	case code >= 400:
		return ClassClientError
	default:
		return ClassOther
	}
}

// Classify places any error in the taxonomy. Classified failures keep their
// class; transport errors are inspected; everything else is ClassOther.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return ClassConnection
	}
	return ClassOther
}

// transportFailure converts an error from http.Client.Do. A canceled parent
// context is returned unchanged so callers can stop instead of retrying.
func transportFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	class := Classify(err)
	if class == ClassOther {
		class = ClassConnection
	}
	return &Failure{Class: class, Err: err}
}
