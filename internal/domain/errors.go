package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("order not found")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
	ErrStorage              = errors.New("storage failure")
)

// ValidationError lists offending fields by their JSON path, e.g. "items[0].quantity".
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
