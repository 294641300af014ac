package order

import (
	"errors"
	"fmt"
	"time"
)

// TransitionMode selects whether the engine checks the transition table.
type TransitionMode string

const (
	TransitionPermissive TransitionMode = "permissive"
	TransitionStrict     TransitionMode = "strict"
)

func ParseTransitionMode(s string) (TransitionMode, error) {
	switch TransitionMode(s) {
	case "", TransitionPermissive:
		return TransitionPermissive, nil
	case TransitionStrict:
		return TransitionStrict, nil
	}
	return "", fmt.Errorf("unknown transition mode %q", s)
}

// allowedTransitions is consulted only in strict mode.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusPacked:    true,
		StatusCancelled: true,
	},
	StatusPacked: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusOutForDelivery: true,
		StatusDelivered:      true,
		StatusReturned:       true,
	},
	StatusOutForDelivery: {
		StatusDelivered: true,
		StatusReturned:  true,
	},
	StatusDelivered: {
		StatusReturned: true,
	},
	StatusReturned: {
		StatusRefunded: true,
	},
	StatusCancelled: {
		StatusRefunded: true,
	},
	StatusRefunded: {},
}

var (
	ErrInvalidStatus           = errors.New("unknown order status")
	ErrStatusAlreadySet        = errors.New("status is already set to the desired value")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// Engine applies status changes to orders. The zero value is permissive.
type Engine struct {
	Mode TransitionMode
}

func NewEngine(mode TransitionMode) *Engine {
	return &Engine{Mode: mode}
}

// CanTransition reports whether from -> to is allowed under the engine's mode.
func (e *Engine) CanTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if e == nil || e.Mode != TransitionStrict {
		return nil
	}
	if from == to {
		return ErrStatusAlreadySet
	}
	if !allowedTransitions[from][to] {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// Apply records a move to newStatus on o. On error o is left untouched.
func (e *Engine) Apply(o *Order, newStatus OrderStatus, note, actor string, now time.Time) error {
	if err := e.CanTransition(o.Status, newStatus); err != nil {
		return err
	}
	if actor == "" {
		actor = ActorAdmin
	}

	o.StatusHistory = append(o.StatusHistory, StatusHistoryEntry{
		Status:    newStatus,
		Timestamp: now,
		UpdatedBy: actor,
		Note:      note,
	})
	o.Status = newStatus
	o.UpdatedAt = now

	// Milestones keep the first time the status was reached.
	switch newStatus {
	case StatusConfirmed:
		if o.ConfirmedAt == nil {
			o.ConfirmedAt = &now
		}
	case StatusShipped:
		if o.ShippedAt == nil {
			o.ShippedAt = &now
		}
	case StatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
	}
	return nil
}

func BulkUpdateNote(status OrderStatus) string {
	return fmt.Sprintf("Bulk update to %s", status)
}
