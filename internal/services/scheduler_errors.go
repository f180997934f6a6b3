package services

import (
	"errors"
)

type SchedulerErrorCode string

const (
	ErrOwnershipMismatch     SchedulerErrorCode = "ownership_mismatch"
	ErrInvalidState          SchedulerErrorCode = "invalid_state"
	ErrPredecessorBlocked    SchedulerErrorCode = "predecessor_blocked"
	ErrSubstationUnavailable SchedulerErrorCode = "substation_unavailable"
	ErrTransactionFailure    SchedulerErrorCode = "transaction_failure"
)

// SchedulerError is the tagged failure type of the scheduler's public
// operations. Message keeps the operator-facing text (Turkish, as displayed
// in the shop-floor UI); Details carries structured context.
type SchedulerError struct {
	Code    SchedulerErrorCode     `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *SchedulerError) Error() string { return e.Message }

func newSchedulerError(code SchedulerErrorCode, message string, details map[string]interface{}) *SchedulerError {
	return &SchedulerError{Code: code, Message: message, Details: details}
}

// asSchedulerError converts any error escaping a scheduler transaction into
// a SchedulerError, defaulting to the transaction-failure variant.
func asSchedulerError(err error) *SchedulerError {
	if err == nil {
		return nil
	}
	var se *SchedulerError
	if errors.As(err, &se) {
		return se
	}
	return &SchedulerError{Code: ErrTransactionFailure, Message: err.Error()}
}
