package storage

import (
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

// Error is a classified driver failure. It matches its Kind (one of the
// domain sentinels) and the underlying error.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Wrap classifies err. Constraint failures that describe bad input or a
// missing parent row map to ErrValidation and ErrNotFound; everything else is
// ErrStorage.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return err
	}

	return &Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return domain.ErrStorage
	}

	switch pqErr.Code.Name() {
	case "foreign_key_violation":
		return domain.ErrNotFound
	case "check_violation", "not_null_violation", "invalid_text_representation", "numeric_value_out_of_range":
		return domain.ErrValidation
	default:
		return domain.ErrStorage
	}
}
