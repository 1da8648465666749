package survey

import (
	"errors"
	"fmt"
)

// ErrInputRejected marks a raw position that failed validity checks.
var ErrInputRejected = errors.New("position rejected")

// ErrNoFix is returned when a payload needs a position and none has been seen.
var ErrNoFix = errors.New("no position fix yet")

// errDegenerate marks a feature excluded from matching (fewer than two
// vertices or zero length). It is logged, never returned to callers.
var errDegenerate = errors.New("degenerate geometry")

// MatchingFault reports a network provider that broke its contract, for
// example by returning a feature with non-finite coordinates. State for
// other features is not affected.
type MatchingFault struct {
	FeatureID string
	Reason    string
	Err       error
}

func (f *MatchingFault) Error() string {
	if f.FeatureID == "" {
		return fmt.Sprintf("matching fault: %s", f.Reason)
	}
	return fmt.Sprintf("matching fault on feature %s: %s", f.FeatureID, f.Reason)
}

func (f *MatchingFault) Unwrap() error {
	return f.Err
}
