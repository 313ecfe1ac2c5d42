package service

import "errors"

var (
	// ErrInvalidValue rejects a temperature that is not a finite number.
	ErrInvalidValue = errors.New("invalid temperature value")
	// ErrNoData means the query matched no readings. Not a storage failure.
	ErrNoData = errors.New("no data yet")
	// ErrInvalidWindow rejects a non-positive history window.
	ErrInvalidWindow = errors.New("invalid window")
)
