// Package safe provides checked uint64 arithmetic for sizes and balances.
// Overflow and underflow surface as errors instead of wrapping silently;
// callers translate them into their own failure taxonomy.
package safe

import (
	"errors"
	"math"
)

var (
	ErrOverflow  = errors.New("safe: arithmetic overflow")
	ErrUnderflow = errors.New("safe: arithmetic underflow")
)

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b or ErrUnderflow when b exceeds a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxUint64/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}
