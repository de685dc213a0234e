// Package transport is the narrow send contract the dispatcher needs
// from the WhatsApp integration, plus the HTTP gateway client that
// fulfils it. Failures are classified transient or permanent so the
// dispatcher knows what to retry.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers one rendered message to one phone number.
type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

// SendError is a classified delivery failure.
type SendError struct {
	Phone     string
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("send to %s failed (%s): %v", e.Phone, kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(phone string, err error) error {
	return &SendError{Phone: phone, Err: err}
}

// Permanent wraps err as a failure that must not be retried.
func Permanent(phone string, err error) error {
	return &SendError{Phone: phone, Permanent: true, Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure.
// Unclassified errors count as transient, the safe default for a
// network path.
func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}
