// Package apperr defines the error taxonomy shared by the costing, quota and
// service layers. Every error carries enough detail for the API to render a
// user-facing message naming the offending resource, limit or value.
package apperr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError reports an input that violates a domain invariant.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Validation builds a ValidationError for field using a formatted message.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CycleError reports a sub-formulation reference chain that loops back on itself.
// Path lists the formulation ids along the loop, starting and ending with the same id.
type CycleError struct {
	Path []uint
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, id := range e.Path {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	return "circular sub-formulation reference: " + strings.Join(parts, " -> ")
}

// NotFoundError reports a referenced record that does not exist for the caller.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// NotFound is shorthand for a NotFoundError.
func NotFound(resource string, id uint) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// QuotaExceededError is returned when creation is attempted at or over a plan limit.
type QuotaExceededError struct {
	Resource string
	Usage    int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d of %d used", e.Resource, e.Usage, e.Limit)
}

// ReadOnlyError is returned when a soft-locked item is mutated.
type ReadOnlyError struct {
	Resource string
	ItemID   uint
	Limit    int64
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s %d is read-only: plan allows %d, upgrade or remove other items to edit it", e.Resource, e.ItemID, e.Limit)
}

// DependencyError reports that a formulation could not be costed because one of
// its sub-formulations failed.
type DependencyError struct {
	FormulationID    uint
	SubFormulationID uint
	Err              error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("formulation %d depends on sub-formulation %d: %v", e.FormulationID, e.SubFormulationID, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsCycle(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsQuotaExceeded(err error) bool {
	var target *QuotaExceededError
	return errors.As(err, &target)
}

func IsReadOnly(err error) bool {
	var target *ReadOnlyError
	return errors.As(err, &target)
}
