package pano

import (
	"fmt"
)

// ErrorKind classifies a StitchError. errors.Is compares kinds, so a
// StitchError with a more specific Reason still matches its sentinel.
type ErrorKind int

const (
	InvalidInput ErrorKind = iota
	InsufficientFeatures
	InsufficientMatches
	DisconnectedPanorama
	RefinementDivergence
	EmptyCanvas
	StitchFailed
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case InsufficientFeatures:
		return "InsufficientFeatures"
	case InsufficientMatches:
		return "InsufficientMatches"
	case DisconnectedPanorama:
		return "DisconnectedPanorama"
	case RefinementDivergence:
		return "RefinementDivergence"
	case EmptyCanvas:
		return "EmptyCanvas"
	case StitchFailed:
		return "StitchFailed"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

type StitchError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *StitchError) Error() string {
	str := e.Kind.String()
	if e.Reason != "" {
		str += ": " + e.Reason
	}
	if e.Err != nil {
		str += ": " + e.Err.Error()
	}
	return str
}

func (e *StitchError) Unwrap() error { return e.Err }

func (e *StitchError) Is(target error) bool {
	t, ok := target.(*StitchError)
	return ok && t.Kind == e.Kind
}

var (
	ErrTooFewImages         = &StitchError{Kind: InvalidInput, Reason: "need at least 2 images"}
	ErrInsufficientFeatures = &StitchError{Kind: InsufficientFeatures, Reason: "no keypoints found"}
	ErrInsufficientMatches  = &StitchError{Kind: InsufficientMatches, Reason: "too few inliers"}
	ErrDisconnectedPanorama = &StitchError{Kind: DisconnectedPanorama, Reason: "images form more than one panorama"}
	ErrRefinementDivergence = &StitchError{Kind: RefinementDivergence, Reason: "bundle adjustment diverged"}
	ErrEmptyCanvas          = &StitchError{Kind: EmptyCanvas, Reason: "no warped image has a valid pixel"}
	ErrStitchFailed         = &StitchError{Kind: StitchFailed}
)

func newError(kind ErrorKind, err error, format string, args ...interface{}) *StitchError {
	return &StitchError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}
