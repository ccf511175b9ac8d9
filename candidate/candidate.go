// Package candidate defines the worker directory entity and its store
// contract. The matcher reads candidates; only the fanout (cooldown),
// the penalty engine (ban, reputation) and the reaper (availability)
// may mutate them.
package candidate

import (
	"time"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/id"
)

// Candidate is a worker as the dispatch engine sees one.
type Candidate struct {
	rush.Entity

	ID     id.CandidateID `json:"id"`
	Name   string         `json:"name,omitempty"`
	Skills []string       `json:"skills,omitempty"`

	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	HasLocation bool    `json:"has_location"`

	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"last_seen_at"`

	AvailableForDispatch bool      `json:"available_for_dispatch"`
	AvailableUntil       time.Time `json:"available_until,omitempty"`

	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	BannedUntil   time.Time `json:"banned_until,omitempty"`
	Reputation    int       `json:"reputation"`
}

// InCooldown reports whether the candidate's per-offer cooldown has not
// yet elapsed.
func (c *Candidate) InCooldown(now time.Time) bool {
	return now.Before(c.CooldownUntil)
}

// Banned reports whether an unexpired ban is in force.
func (c *Candidate) Banned(now time.Time) bool {
	return now.Before(c.BannedUntil)
}

// Fresh reports whether the candidate counts as online: the explicit
// flag is set, or they were seen within the freshness window.
func (c *Candidate) Fresh(now time.Time, window time.Duration) bool {
	if c.Online {
		return true
	}
	return !c.LastSeenAt.IsZero() && now.Sub(c.LastSeenAt) <= window
}
