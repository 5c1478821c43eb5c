package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is. The typed errors below match them so callers
// can branch on the kind and still read the details with errors.As.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrExternal          = errors.New("external collaborator failure")
	ErrPersistence       = errors.New("persistence failure")

	ErrLockBusy       = errors.New("cart lock busy")
	ErrNotLockHolder  = errors.New("cart lock held by another session")
	ErrCartLocked     = errors.New("cart is locked by an active checkout")
	ErrSessionExpired = errors.New("checkout session expired")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrDuplicate      = errors.New("duplicate record")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type IllegalTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

type Shortage struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (s Shortage) Missing() int {
	return s.Requested - s.Available
}

// InsufficientStockError names every product that could not be
// fulfilled and by how much.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		label := s.ProductID
		if s.Name != "" {
			label = fmt.Sprintf("%s (%s)", s.Name, s.ProductID)
		}
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d, short by %d",
			label, s.Requested, s.Available, s.Missing()))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "unauthorized: " + e.Reason }

func (e *AuthError) Is(target error) bool { return target == ErrUnauthorized }

// ExternalError wraps a failure of the payment or notification channel.
type ExternalError struct {
	Collaborator string
	Retryable    bool
	Err          error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

func (e *ExternalError) Is(target error) bool { return target == ErrExternal }

// PersistenceError wraps a store failure. It is surfaced, never retried inline.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
