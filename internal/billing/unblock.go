package billing

import (
	"errors"
	"fmt"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

// UnblockAction is a transition trigger for an unblock request.
type UnblockAction string

const (
	ActionRequest UnblockAction = "request"
	ActionApprove UnblockAction = "approve"
	ActionReject  UnblockAction = "reject"
	ActionExpire  UnblockAction = "expire"
)

var (
	// ErrInvalidTransition is returned for actions not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid unblock transition")
	// ErrNotBlocked is returned when a request is made for an enrollment that is not blocked.
	ErrNotBlocked = errors.New("enrollment is not blocked")
)

// NextUnblockState returns the state reached by applying action to current.
// status is the derived fee status at the time of the action.
func NextUnblockState(current models.UnblockStatus, action UnblockAction, status models.FeeStatus) (models.UnblockStatus, error) {
	if current == "" {
		current = models.UnblockNone
	}
	switch action {
	case ActionRequest:
		if status != models.FeeStatusBlocked {
			return current, ErrNotBlocked
		}
		if current != models.UnblockNone {
			return current, fmt.Errorf("%w: request already %s", ErrInvalidTransition, current)
		}
		return models.UnblockPending, nil
	case ActionApprove:
		if current != models.UnblockPending {
			return current, fmt.Errorf("%w: cannot approve from %s", ErrInvalidTransition, current)
		}
		return models.UnblockApproved, nil
	case ActionReject, ActionExpire:
		if current != models.UnblockPending {
			return current, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, current)
		}
		return models.UnblockNone, nil
	default:
		return current, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
}
