package history

import "errors"

// ErrMissingID is returned when a record has no pass id.
var ErrMissingID = errors.New("pass id is required")
