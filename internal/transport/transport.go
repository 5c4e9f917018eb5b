// internal/transport/transport.go

// Package transport abstracts the WhatsApp gateway the engine sends through.
// The gateway's own protocol and webhook translation are outside this
// repository; the engine only consumes the capability below.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// Connection is the gateway's reported link state.
type Connection struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// Transport sends one text or media message. Implementations must classify
// failures as TransientError (retryable) or PermanentError (bad recipient,
// unsupported media) so the dispatch retry policy can act on them.
type Transport interface {
	SendText(ctx context.Context, to, body string) (providerID string, err error)
	SendMedia(ctx context.Context, to, caption, mediaURL string, mediaType model.MediaType) (providerID string, err error)
	CheckConnection(ctx context.Context) (Connection, error)
}

// TransientError is a retryable send failure: network timeout, provider 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transport error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a non-retryable send failure: invalid recipient format,
// unsupported media type, rejected payload.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent transport error in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func NewTransient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func NewPermanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether retrying err is pointless.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
