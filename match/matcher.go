// Package match implements the eligibility matcher: a pure query that
// filters the candidate directory against a job's requirements and
// returns a deterministically ranked shortlist.
package match

import (
	"context"
	"sort"
	"time"

	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
)

// Ranked pairs a candidate with their distance to the job origin.
type Ranked struct {
	Candidate  *candidate.Candidate
	DistanceKm float64
}

// Matcher ranks currently eligible candidates for a job. It never
// mutates candidate state.
type Matcher struct {
	candidates      candidate.Store
	freshnessWindow time.Duration
}

// New creates a Matcher over the candidate directory. freshnessWindow is
// how recently an offline-flagged candidate must have been seen to still
// count as online.
func New(candidates candidate.Store, freshnessWindow time.Duration) *Matcher {
	return &Matcher{candidates: candidates, freshnessWindow: freshnessWindow}
}

// Eligible returns up to limit candidates passing every filter, ranked
// by ascending distance with ties broken by descending reputation.
// Ranking is deterministic for a fixed candidate snapshot.
func (m *Matcher) Eligible(ctx context.Context, j *job.Job, exclude []id.CandidateID, limit int) ([]Ranked, error) {
	all, err := m.candidates.ListDispatchable(ctx)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, cid := range exclude {
		excluded[cid.String()] = struct{}{}
	}

	now := time.Now().UTC()
	var ranked []Ranked
	for _, c := range all {
		if !eligible(c, j, excluded, now, m.freshnessWindow) {
			continue
		}
		d := DistanceKm(c.Lat, c.Lng, j.Origin.Lat, j.Origin.Lng)
		if d > j.RadiusKm {
			continue
		}
		ranked = append(ranked, Ranked{Candidate: c, DistanceKm: d})
	}

	sort.SliceStable(ranked, func(i, k int) bool {
		if ranked[i].DistanceKm != ranked[k].DistanceKm {
			return ranked[i].DistanceKm < ranked[k].DistanceKm
		}
		if ranked[i].Candidate.Reputation != ranked[k].Candidate.Reputation {
			return ranked[i].Candidate.Reputation > ranked[k].Candidate.Reputation
		}
		// Final tiebreak on ID keeps the order stable across runs.
		return ranked[i].Candidate.ID.String() < ranked[k].Candidate.ID.String()
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// eligible applies every filter except the distance check, which needs
// the computed distance anyway.
func eligible(c *candidate.Candidate, j *job.Job, excluded map[string]struct{}, now time.Time, freshness time.Duration) bool {
	if !c.AvailableForDispatch {
		return false
	}
	if !c.Fresh(now, freshness) {
		return false
	}
	if !c.AvailableUntil.IsZero() && now.After(c.AvailableUntil) {
		return false
	}
	if c.InCooldown(now) || c.Banned(now) {
		return false
	}
	if _, skip := excluded[c.ID.String()]; skip {
		return false
	}
	if !c.HasLocation {
		return false
	}
	return skillsIntersect(j.Skills, c.Skills)
}

// skillsIntersect reports whether the candidate covers at least one
// required skill. A job requiring nothing matches everyone.
func skillsIntersect(required, have []string) bool {
	if len(required) == 0 {
		return true
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, s := range have {
		haveSet[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := haveSet[s]; ok {
			return true
		}
	}
	return false
}
