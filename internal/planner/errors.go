package planner

import "errors"

var (
	// ErrNothingToBatch means the run had no orders at all.
	ErrNothingToBatch = errors.New("nothing to batch")
	// ErrNoCoordinates means every candidate order lacked usable coordinates.
	ErrNoCoordinates = errors.New("no orders with valid coordinates")
)

// IsInputError reports whether err is a non-fatal planning outcome rather than a failure.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNothingToBatch) || errors.Is(err, ErrNoCoordinates)
}
