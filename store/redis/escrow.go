package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/id"
)

// CreateEscrow stores the escrow as a Hash and indexes it by job.
func (s *Store) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	eID := e.ID.String()
	key := escrowKey(eID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: create escrow check exists: %w", err)
	}
	if exists > 0 {
		return rush.ErrEscrowAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, escrowToMap(e))
	pipe.Set(ctx, escrowByJobKey(e.JobID.String()), eID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rush/redis: create escrow: %w", err)
	}
	return nil
}

// GetEscrow retrieves an escrow by ID.
func (s *Store) GetEscrow(ctx context.Context, escrowID id.EscrowID) (*escrow.Escrow, error) {
	vals, err := s.client.HGetAll(ctx, escrowKey(escrowID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("rush/redis: get escrow: %w", err)
	}
	if len(vals) == 0 {
		return nil, rush.ErrEscrowNotFound
	}
	return mapToEscrow(vals)
}

// GetEscrowByJob retrieves the escrow held against a job.
func (s *Store) GetEscrowByJob(ctx context.Context, jobID id.JobID) (*escrow.Escrow, error) {
	eID, err := s.client.Get(ctx, escrowByJobKey(jobID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, rush.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("rush/redis: escrow by job: %w", err)
	}

	escrowID, err := id.ParseEscrowID(eID)
	if err != nil {
		return nil, fmt.Errorf("rush/redis: parse escrow id: %w", err)
	}
	return s.GetEscrow(ctx, escrowID)
}

// UpdateEscrow persists the status and event log of an existing escrow.
func (s *Store) UpdateEscrow(ctx context.Context, e *escrow.Escrow) error {
	key := escrowKey(e.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: update escrow check exists: %w", err)
	}
	if exists == 0 {
		return rush.ErrEscrowNotFound
	}

	fields := escrowToMap(e)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("rush/redis: update escrow: %w", err)
	}
	return nil
}

// ── helpers ──

func escrowToMap(e *escrow.Escrow) map[string]interface{} {
	return map[string]interface{}{
		"id":          e.ID.String(),
		"job_id":      e.JobID.String(),
		"employer_id": e.EmployerID.String(),
		"worker_id":   idString(e.WorkerID),
		"amount":      e.Amount.String(),
		"fee_percent": e.FeePercent.String(),
		"status":      string(e.Status),
		"events":      marshalJSON(e.Events),
		"created_at":  e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  e.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToEscrow(m map[string]string) (*escrow.Escrow, error) {
	eID, err := id.ParseEscrowID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rush/redis: parse escrow id: %w", err)
	}

	amount, _ := decimal.NewFromString(m["amount"])          //nolint:errcheck // best-effort parse from trusted Redis data
	feePercent, _ := decimal.NewFromString(m["fee_percent"]) //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &escrow.Escrow{
		Entity: rush.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:         eID,
		Amount:     amount,
		FeePercent: feePercent,
		Status:     escrow.Status(m["status"]),
	}

	if v := m["job_id"]; v != "" {
		e.JobID, _ = id.ParseJobID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["employer_id"]; v != "" {
		e.EmployerID, _ = id.ParseEmployerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["worker_id"]; v != "" {
		e.WorkerID, _ = id.ParseCandidateID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["events"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &e.Events) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return e, nil
}
