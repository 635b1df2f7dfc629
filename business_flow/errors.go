package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Principal errors
	ErrUnauthenticated  = errors.New("no authenticated principal")
	ErrPermissionDenied = errors.New("permission denied")

	// Saved search errors
	ErrSavedSearchNotFound     = errors.New("saved search not found")
	ErrSavedSearchAccessDenied = errors.New("saved search access denied")
	ErrAlertDayRequired        = errors.New("alert_day is required for weekly and monthly alerts")
	ErrAlertDayNotAllowed      = errors.New("alert_day is only allowed for weekly and monthly alerts")
	ErrAlertDayOutOfRange      = errors.New("alert_day is out of range for the alert frequency")
	ErrAlertEmailRequired      = errors.New("alert_email is required when alerts are enabled")

	// Ads account errors
	ErrAdsAccountNotFound     = errors.New("ads account not found")
	ErrAdsAccountAccessDenied = errors.New("ads account access denied")
	ErrAdsAccountNotConnected = errors.New("ads account is not connected")
	ErrInvalidOAuthState      = errors.New("invalid or expired oauth state")
	ErrCustomerIDRequired     = errors.New("customer id is required")
	ErrCustomerIDInUse        = errors.New("customer id is already linked to another account")

	// Audience errors
	ErrAudienceNotFound     = errors.New("audience not found")
	ErrAudienceAccessDenied = errors.New("audience access denied")
	ErrAudienceInactive     = errors.New("audience is inactive")
	ErrSyncAlreadyRunning   = errors.New("a sync for this audience is already in progress")

	// Shared
	ErrUpdateRequired = errors.New("at least one field must be provided for update")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsSavedSearchNotFound(err error) bool {
	return errors.Is(err, ErrSavedSearchNotFound)
}

func IsSavedSearchAccessDenied(err error) bool {
	return errors.Is(err, ErrSavedSearchAccessDenied)
}

func IsAdsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAdsAccountNotFound)
}

func IsAdsAccountAccessDenied(err error) bool {
	return errors.Is(err, ErrAdsAccountAccessDenied)
}

func IsAdsAccountNotConnected(err error) bool {
	return errors.Is(err, ErrAdsAccountNotConnected)
}

func IsCustomerIDInUse(err error) bool {
	return errors.Is(err, ErrCustomerIDInUse)
}

func IsInvalidOAuthState(err error) bool {
	return errors.Is(err, ErrInvalidOAuthState)
}

func IsAudienceNotFound(err error) bool {
	return errors.Is(err, ErrAudienceNotFound)
}

func IsAudienceAccessDenied(err error) bool {
	return errors.Is(err, ErrAudienceAccessDenied)
}

func IsSyncAlreadyRunning(err error) bool {
	return errors.Is(err, ErrSyncAlreadyRunning)
}

// IsValidationError reports whether err should be answered with 400
func IsValidationError(err error) bool {
	var be *BusinessError
	if errors.As(err, &be) {
		switch be.Code {
		case "VALIDATION_ERROR", "INVALID_SCHEDULE", "INVALID_FILTERS", "UPDATE_REQUIRED", "INVALID_CUSTOMER_ID":
			return true
		}
	}
	return false
}
