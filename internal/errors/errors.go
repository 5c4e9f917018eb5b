// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// Validation sentinels: these reject a start/create synchronously, before
// anything reaches the dispatch queue.
var (
	ErrNoMessage      = errors.New("campaign has no message")
	ErrNoRecipients   = errors.New("campaign has no recipients")
	ErrQueuePaused    = errors.New("dispatch queue is paused")
	ErrFrozenAudience = errors.New("recipient set is frozen while campaign is scheduled or processing")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidTransition reports a campaign state machine violation.
type ErrInvalidTransition struct {
	From, To model.CampaignStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid campaign transition %s -> %s", e.From, e.To)
}

func NewInvalidTransition(from, to model.CampaignStatus) error {
	return &ErrInvalidTransition{From: from, To: to}
}

// ErrStatusRegression reports a delivery update that would move a record
// backwards in the status order.
type ErrStatusRegression struct {
	From, To model.DeliveryStatus
}

func (e *ErrStatusRegression) Error() string {
	return fmt.Sprintf("delivery status regression %s -> %s", e.From, e.To)
}

func NewStatusRegression(from, to model.DeliveryStatus) error {
	return &ErrStatusRegression{From: from, To: to}
}

// ErrValidation wraps a human-readable create/start validation failure.
type ErrValidation struct {
	Reason string
}

func (e *ErrValidation) Error() string { return e.Reason }

func NewValidation(format string, args ...any) error {
	return &ErrValidation{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is any of the synchronous-rejection kinds.
func IsValidation(err error) bool {
	var ev *ErrValidation
	var et *ErrInvalidTransition
	return errors.Is(err, ErrNoMessage) ||
		errors.Is(err, ErrNoRecipients) ||
		errors.Is(err, ErrFrozenAudience) ||
		errors.As(err, &ev) ||
		errors.As(err, &et)
}
