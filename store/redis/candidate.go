package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/id"
)

// PutCandidate creates or replaces a candidate record and keeps the
// dispatchable index in step with the availability flag.
func (s *Store) PutCandidate(ctx context.Context, c *candidate.Candidate) error {
	cID := c.ID.String()

	fields := candidateToMap(c)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, candidateKey(cID), fields)
	pipe.SAdd(ctx, candidateIDsKey, cID)
	if c.AvailableForDispatch {
		pipe.SAdd(ctx, dispatchableKey, cID)
	} else {
		pipe.SRem(ctx, dispatchableKey, cID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rush/redis: put candidate: %w", err)
	}
	return nil
}

// GetCandidate retrieves a candidate by ID.
func (s *Store) GetCandidate(ctx context.Context, candID id.CandidateID) (*candidate.Candidate, error) {
	vals, err := s.client.HGetAll(ctx, candidateKey(candID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("rush/redis: get candidate: %w", err)
	}
	if len(vals) == 0 {
		return nil, rush.ErrCandidateNotFound
	}
	return mapToCandidate(vals)
}

// ListDispatchable returns every candidate in the dispatchable index.
func (s *Store) ListDispatchable(ctx context.Context) ([]*candidate.Candidate, error) {
	ids, err := s.client.SMembers(ctx, dispatchableKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rush/redis: list dispatchable: %w", err)
	}

	result := make([]*candidate.Candidate, 0, len(ids))
	for _, cID := range ids {
		vals, getErr := s.client.HGetAll(ctx, candidateKey(cID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		c, convErr := mapToCandidate(vals)
		if convErr != nil {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

// SetCooldown stamps the candidate's cooldown-until timestamp.
func (s *Store) SetCooldown(ctx context.Context, candID id.CandidateID, until time.Time) error {
	key := candidateKey(candID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: cooldown check exists: %w", err)
	}
	if exists == 0 {
		return rush.ErrCandidateNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"cooldown_until", until.Format(time.RFC3339Nano),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: set cooldown: %w", err)
	}
	return nil
}

// ApplyPenalty sets the ban timestamp and adjusts reputation in one
// round trip.
func (s *Store) ApplyPenalty(ctx context.Context, candID id.CandidateID, banUntil time.Time, delta int) error {
	key := candidateKey(candID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: penalty check exists: %w", err)
	}
	if exists == 0 {
		return rush.ErrCandidateNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"banned_until", banUntil.Format(time.RFC3339Nano),
		"updated_at", now,
	)
	pipe.HIncrBy(ctx, key, "reputation", int64(delta))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rush/redis: apply penalty: %w", err)
	}
	return nil
}

// ListLapsedAvailability returns dispatchable candidates whose
// availability window ended before now.
func (s *Store) ListLapsedAvailability(ctx context.Context, now time.Time) ([]*candidate.Candidate, error) {
	all, err := s.ListDispatchable(ctx)
	if err != nil {
		return nil, err
	}

	var lapsed []*candidate.Candidate
	for _, c := range all {
		if c.AvailableUntil.IsZero() || c.AvailableUntil.After(now) {
			continue
		}
		lapsed = append(lapsed, c)
	}
	return lapsed, nil
}

// ClearAvailability drops the available and online flags and removes
// the candidate from the dispatchable index.
func (s *Store) ClearAvailability(ctx context.Context, candID id.CandidateID) error {
	cID := candID.String()
	key := candidateKey(cID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: availability check exists: %w", err)
	}
	if exists == 0 {
		return rush.ErrCandidateNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"available_for_dispatch", "0",
		"online", "0",
		"updated_at", now,
	)
	pipe.SRem(ctx, dispatchableKey, cID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rush/redis: clear availability: %w", err)
	}
	return nil
}

// ── helpers ──

func candidateToMap(c *candidate.Candidate) map[string]interface{} {
	return map[string]interface{}{
		"id":                     c.ID.String(),
		"name":                   c.Name,
		"skills":                 marshalJSON(c.Skills),
		"lat":                    strconv.FormatFloat(c.Lat, 'f', -1, 64),
		"lng":                    strconv.FormatFloat(c.Lng, 'f', -1, 64),
		"has_location":           boolString(c.HasLocation),
		"online":                 boolString(c.Online),
		"last_seen_at":           c.LastSeenAt.Format(time.RFC3339Nano),
		"available_for_dispatch": boolString(c.AvailableForDispatch),
		"available_until":        c.AvailableUntil.Format(time.RFC3339Nano),
		"cooldown_until":         c.CooldownUntil.Format(time.RFC3339Nano),
		"banned_until":           c.BannedUntil.Format(time.RFC3339Nano),
		"reputation":             strconv.Itoa(c.Reputation),
		"created_at":             c.CreatedAt.Format(time.RFC3339Nano),
	}
}

func mapToCandidate(m map[string]string) (*candidate.Candidate, error) {
	cID, err := id.ParseCandidateID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rush/redis: parse candidate id: %w", err)
	}

	lat, _ := strconv.ParseFloat(m["lat"], 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	lng, _ := strconv.ParseFloat(m["lng"], 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	reputation, _ := strconv.Atoi(m["reputation"]) //nolint:errcheck // best-effort parse from trusted Redis data

	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen_at"])          //nolint:errcheck // best-effort parse from trusted Redis data
	availableUntil, _ := time.Parse(time.RFC3339Nano, m["available_until"]) //nolint:errcheck // best-effort parse from trusted Redis data
	cooldownUntil, _ := time.Parse(time.RFC3339Nano, m["cooldown_until"])   //nolint:errcheck // best-effort parse from trusted Redis data
	bannedUntil, _ := time.Parse(time.RFC3339Nano, m["banned_until"])       //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])           //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])           //nolint:errcheck // best-effort parse from trusted Redis data

	return &candidate.Candidate{
		Entity: rush.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                   cID,
		Name:                 m["name"],
		Skills:               unmarshalStrings(m["skills"]),
		Lat:                  lat,
		Lng:                  lng,
		HasLocation:          m["has_location"] == "1",
		Online:               m["online"] == "1",
		LastSeenAt:           lastSeen,
		AvailableForDispatch: m["available_for_dispatch"] == "1",
		AvailableUntil:       availableUntil,
		CooldownUntil:        cooldownUntil,
		BannedUntil:          bannedUntil,
		Reputation:           reputation,
	}, nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
