package models

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a failure surfaced to API callers
type ErrorKind string

const (
	// Validation
	ErrInvalidQueryParameters ErrorKind = "InvalidQueryParameters"
	ErrInvalidBody            ErrorKind = "InvalidBody"
	ErrEmptyBasket            ErrorKind = "EmptyBasket"

	// Missing entities
	ErrCartNotFound       ErrorKind = "CartNotFound"
	ErrItemNotFound       ErrorKind = "ItemNotFound"
	ErrUserNotFound       ErrorKind = "UserNotFound"
	ErrTeamNotFound       ErrorKind = "TeamNotFound"
	ErrTournamentNotFound ErrorKind = "TournamentNotFound"

	// Nothing to do
	ErrAlreadyPaid       ErrorKind = "AlreadyPaid"
	ErrAlreadyErrored    ErrorKind = "AlreadyErrored"
	ErrAlreadyCaptain    ErrorKind = "AlreadyCaptain"
	ErrAlreadyInTeam     ErrorKind = "AlreadyInTeam"
	ErrInvalidTransition ErrorKind = "InvalidTransition"

	// Business rules
	ErrItemOutOfStock     ErrorKind = "ItemOutOfStock"
	ErrTournamentFull     ErrorKind = "TournamentFull"
	ErrTeamNotFull        ErrorKind = "TeamNotFull"
	ErrTeamNotPaid        ErrorKind = "TeamNotPaid"
	ErrTeamFull           ErrorKind = "TeamFull"
	ErrTeamLocked         ErrorKind = "TeamLocked"
	ErrNotInTeam          ErrorKind = "NotInTeam"
	ErrNotCaptain         ErrorKind = "NotCaptain"
	ErrCaptainCannotLeave ErrorKind = "CaptainCannotLeave"
	ErrUserHasNoType      ErrorKind = "UserHasNoType"
	ErrUnauthenticated    ErrorKind = "Unauthenticated"

	// Security
	ErrEtupayNoAccess                   ErrorKind = "EtupayNoAccess"
	ErrPleaseDontPlayWithStripeWebhooks ErrorKind = "PleaseDontPlayWithStripeWebhooks"
	ErrInvalidStripeSignature           ErrorKind = "InvalidStripeSignature"

	// Transport
	ErrRouteNotFound    ErrorKind = "RouteNotFound"
	ErrMethodNotAllowed ErrorKind = "MethodNotAllowed"
	ErrTooManyRequests  ErrorKind = "TooManyRequests"
	ErrPayloadTooLarge  ErrorKind = "PayloadTooLarge"

	ErrInternalServerError ErrorKind = "InternalServerError"
)

// AppError is the typed error returned by services
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Message == "" && e.Err == nil {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError creates an AppError of the given kind
func NewError(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches an underlying cause to an AppError
func WrapError(kind ErrorKind, err error, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the ErrorKind carried by err, or InternalServerError for untyped errors
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ErrInternalServerError
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// IsSecurityViolation reports whether the kind denotes a rejected, possibly forged, request
func (k ErrorKind) IsSecurityViolation() bool {
	switch k {
	case ErrEtupayNoAccess, ErrPleaseDontPlayWithStripeWebhooks, ErrInvalidStripeSignature:
		return true
	default:
		return false
	}
}
