package dedup

import (
	"errors"
	"fmt"
)

// ErrBodyTooLarge is returned when a request body exceeds the fingerprinting limit
var ErrBodyTooLarge = errors.New("request body exceeds fingerprint limit")

// InternalError reports a failure inside the cache. Callers must let the
// request proceed when they receive one.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("dedup %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
