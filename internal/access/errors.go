package access

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("access: validation failed")
	ErrNotFound       = errors.New("access: not found")
	ErrPolicy         = errors.New("access: policy violation")
	ErrStateConflict  = errors.New("access: state conflict")
	ErrInfrastructure = errors.New("access: infrastructure failure")
)

// Errors returned by persistence adapters.
var (
	// ErrVersionConflict means a compare-and-set saw a newer version.
	ErrVersionConflict = fmt.Errorf("%w: version mismatch", ErrStateConflict)
	// ErrGrantInactive means a token could not be attached to its grant.
	ErrGrantInactive = fmt.Errorf("%w: grant is not active", ErrPolicy)
	// ErrVendorSuspended means a grant was refused because its vendor is suspended.
	ErrVendorSuspended = fmt.Errorf("%w: vendor is suspended", ErrPolicy)
	// ErrTokenInactive means the token was revoked, expired or unknown at write time.
	ErrTokenInactive = fmt.Errorf("%w: token is not active", ErrPolicy)
)

// FieldError is a malformed-input error on a single field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("access: invalid %s: %s", e.Field, e.Message)
}

func (e *FieldError) Is(target error) bool { return target == ErrValidation }

func policyError(msg string) error {
	return fmt.Errorf("%w: %s", ErrPolicy, msg)
}

func conflictError(msg string) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, msg)
}

// classify keeps taxonomy errors from the adapter and wraps everything else
// as an infrastructure failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrValidation, ErrNotFound, ErrPolicy, ErrStateConflict, ErrInfrastructure} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
