package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/penalty"
)

// AppendPenalty pushes the record onto the actor's history list.
// Records are append-only; the list preserves application order.
func (s *Store) AppendPenalty(ctx context.Context, r *penalty.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("rush/redis: marshal penalty: %w", err)
	}
	if err := s.client.RPush(ctx, penaltyKey(r.ActorID.String()), raw).Err(); err != nil {
		return fmt.Errorf("rush/redis: append penalty: %w", err)
	}
	return nil
}

// ListPenalties returns all penalty records for an actor, oldest first.
func (s *Store) ListPenalties(ctx context.Context, actorID id.AnyID) ([]*penalty.Record, error) {
	raws, err := s.client.LRange(ctx, penaltyKey(actorID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rush/redis: list penalties: %w", err)
	}

	records := make([]*penalty.Record, 0, len(raws))
	for _, raw := range raws {
		var r penalty.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue // skip malformed
		}
		records = append(records, &r)
	}
	return records, nil
}
