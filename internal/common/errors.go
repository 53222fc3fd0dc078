package common

import "errors"

// ErrNotFound is returned when a record does not exist or is owned by someone else.
var ErrNotFound = errors.New("not found")
