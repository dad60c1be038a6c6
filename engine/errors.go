package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two fatal error classes. Callers test with errors.Is.
var (
	// ErrConfig marks a configuration mismatch detected at setup or forward entry.
	ErrConfig = errors.New("configuration error")
	// ErrConsistency marks a broken invariant (partition, index shift).
	ErrConsistency = errors.New("consistency error")
)

// ConfigErrorf wraps ErrConfig with a formatted message.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// ConsistencyErrorf wraps ErrConsistency with a formatted message.
func ConsistencyErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}
