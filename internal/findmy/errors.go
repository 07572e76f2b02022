package findmy

import "errors"

// Domain errors for the findmy package.
//
// Record-level errors wrap ErrMissingField or ErrInvalidField so callers
// can distinguish schema failures from I/O:
//
//	if errors.Is(err, findmy.ErrMissingField) {
//	    // record is incomplete
//	}
var (
	// ErrMissingField is returned when a required record field is absent.
	ErrMissingField = errors.New("findmy: missing field")

	// ErrInvalidField is returned when a record field has the wrong type.
	ErrInvalidField = errors.New("findmy: invalid field")

	// ErrInvalidRecord is returned when a record is not a JSON object.
	ErrInvalidRecord = errors.New("findmy: invalid record")

	// ErrInvalidSnapshot is returned when a snapshot file is not a JSON array.
	ErrInvalidSnapshot = errors.New("findmy: invalid snapshot")
)
