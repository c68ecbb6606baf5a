package store

import "errors"

// ErrNotFound is returned when a requested record does not exist or is not
// visible to the operation (partial updates treat inactive records as missing).
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when a write carries an unknown tier or an
// invalid permission set.
var ErrValidation = errors.New("validation failed")
