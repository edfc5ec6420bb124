package features

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against *ExtractionError.
var (
	ErrNoFeatures   = errors.New("not enough features")
	ErrInvalidFrame = errors.New("invalid frame")
)

// ErrorKind classifies extraction failures.
type ErrorKind int

const (
	KindNoFeatures ErrorKind = iota + 1
	KindInvalidFrame
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoFeatures:
		return "no_features"
	case KindInvalidFrame:
		return "invalid_frame"
	default:
		return "unknown"
	}
}

// ExtractionError reports why a frame produced no usable features. It is
// local to one request; resubmitting a different frame is the recovery.
type ExtractionError struct {
	Kind  ErrorKind
	Found int // keypoints detected, for KindNoFeatures
	Min   int
	Err   error
}

func (e *ExtractionError) Error() string {
	switch e.Kind {
	case KindNoFeatures:
		return fmt.Sprintf("extract: %v (found %d, need %d)", ErrNoFeatures, e.Found, e.Min)
	case KindInvalidFrame:
		if e.Err != nil {
			return fmt.Sprintf("extract: %v: %v", ErrInvalidFrame, e.Err)
		}
		return fmt.Sprintf("extract: %v", ErrInvalidFrame)
	default:
		return "extract: unknown failure"
	}
}

// Is matches the kind sentinels.
func (e *ExtractionError) Is(target error) bool {
	switch target {
	case ErrNoFeatures:
		return e.Kind == KindNoFeatures
	case ErrInvalidFrame:
		return e.Kind == KindInvalidFrame
	}
	return false
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
