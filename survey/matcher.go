package survey

import (
	"errors"

	"github.com/paulmach/orb"
)

// Match returns the candidate nearest to p within radiusM. Ties on
// distance go to the lowest feature id. Degenerate candidates are skipped
// and logged; candidates with malformed geometry are skipped and returned
// as faults so the remaining candidates can still match.
func Match(p orb.Point, candidates []LineFeature, radiusM float64) (MatchResult, bool, []error) {
	var (
		best   MatchResult
		found  bool
		faults []error
	)

	for _, f := range candidates {
		if err := checkGeometry(f); err != nil {
			var fault *MatchingFault
			if errors.As(err, &fault) {
				faults = append(faults, fault)
			} else {
				Logf("[MATCH] skipping feature %s: %v (%d vertices)", f.ID, err, len(f.Geometry))
			}
			continue
		}

		snapped, loc, dist := NearestPointOnLine(f.Geometry, p)
		if dist > radiusM {
			continue
		}
		if found && (dist > best.DistanceM || (dist == best.DistanceM && f.ID >= best.FeatureID)) {
			continue
		}
		best = MatchResult{
			FeatureID:   f.ID,
			Snapped:     snapped,
			LocationM:   loc,
			DistanceM:   dist,
			LineLengthM: LineLengthM(f.Geometry),
			geometry:    f.Geometry,
		}
		found = true
	}

	return best, found, faults
}
