package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
)

// casScript applies a hash update only if the stored version field still
// matches the caller's. Returns -1 when the key is missing, 0 on a
// version mismatch, 1 on success.
var casScript = goredis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  return -1
end
if tonumber(v) ~= tonumber(ARGV[1]) then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// CreateJob stores the job as a Hash and tracks its ID.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return rush.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rush/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job under the version guard.
// The compare and the write run as one Lua script, so a racing writer
// can never interleave between them.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	next := *j
	next.Version = j.Version + 1
	next.UpdatedAt = time.Now().UTC()

	fields := jobToMap(&next)
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, j.Version)
	for f, v := range fields {
		args = append(args, f, v)
	}

	res, err := casScript.Run(ctx, s.client, []string{key}, args...).Int()
	if err != nil {
		return fmt.Errorf("rush/redis: update job: %w", err)
	}
	switch res {
	case -1:
		return rush.ErrJobNotFound
	case 0:
		return rush.ErrConflict
	}

	j.Version = next.Version
	j.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rush/redis: delete check exists: %w", err)
	}
	if exists == 0 {
		return rush.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rush/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByStatus returns jobs matching the given status, ordered by
// CreatedAt ascending.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.loadAllJobs(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if j.Status != status {
			continue
		}
		jobs = append(jobs, j)
	}
	sortJobsByCreatedAt(jobs)

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// ListExpiredLocks returns locked jobs whose lock deadline has passed
// and that have no confirmed worker.
func (s *Store) ListExpiredLocks(ctx context.Context, now time.Time) ([]*job.Job, error) {
	all, err := s.loadAllJobs(ctx)
	if err != nil {
		return nil, err
	}

	var stale []*job.Job
	for _, j := range all {
		if j.Status != job.StatusLocked || !j.ConfirmedWorker.IsNil() {
			continue
		}
		if j.LockExpiresAt == nil || j.LockExpiresAt.After(now) {
			continue
		}
		stale = append(stale, j)
	}
	return stale, nil
}

// ListExpiredJobs returns unresolved jobs past their deadline. Locked
// jobs are included only once the grace allowance has also run out.
func (s *Store) ListExpiredJobs(ctx context.Context, now time.Time, lockGrace time.Duration) ([]*job.Job, error) {
	all, err := s.loadAllJobs(ctx)
	if err != nil {
		return nil, err
	}

	var stale []*job.Job
	for _, j := range all {
		switch j.Status {
		case job.StatusPending, job.StatusDispatching, job.StatusLocked:
		default:
			continue
		}
		if !j.ConfirmedWorker.IsNil() || j.ExpiresAt.IsZero() {
			continue
		}
		deadline := j.ExpiresAt
		if j.Status == job.StatusLocked {
			deadline = deadline.Add(lockGrace)
		}
		if deadline.After(now) {
			continue
		}
		stale = append(stale, j)
	}
	return stale, nil
}

// ── helpers ──

func (s *Store) loadAllJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rush/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func sortJobsByCreatedAt(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}

// jobToMap flattens a job into hash fields. Every field is always
// written, empty when unset, so cleared sub-records (the lock) actually
// clear in Redis.
func jobToMap(j *job.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":               j.ID.String(),
		"employer_id":      j.EmployerID.String(),
		"title":            j.Title,
		"origin_lat":       strconv.FormatFloat(j.Origin.Lat, 'f', -1, 64),
		"origin_lng":       strconv.FormatFloat(j.Origin.Lng, 'f', -1, 64),
		"radius_km":        strconv.FormatFloat(j.RadiusKm, 'f', -1, 64),
		"skills":           marshalJSON(j.Skills),
		"pay":              j.Pay.String(),
		"duration":         strconv.FormatInt(int64(j.Duration), 10),
		"status":           string(j.Status),
		"current_wave":     strconv.Itoa(j.CurrentWave),
		"waves":            marshalJSON(j.Waves),
		"lock_holder":      idString(j.LockHolder),
		"locked_at":        timeString(j.LockedAt),
		"lock_expires_at":  timeString(j.LockExpiresAt),
		"confirmed_worker": idString(j.ConfirmedWorker),
		"confirmed_at":     timeString(j.ConfirmedAt),
		"expires_at":       j.ExpiresAt.Format(time.RFC3339Nano),
		"escrow_id":        idString(j.EscrowID),
		"version":          strconv.FormatInt(j.Version, 10),
		"created_at":       j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       j.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("rush/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, rush.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rush/redis: parse job id: %w", err)
	}

	lat, _ := strconv.ParseFloat(m["origin_lat"], 64)      //nolint:errcheck // best-effort parse from trusted Redis data
	lng, _ := strconv.ParseFloat(m["origin_lng"], 64)      //nolint:errcheck // best-effort parse from trusted Redis data
	radius, _ := strconv.ParseFloat(m["radius_km"], 64)    //nolint:errcheck // best-effort parse from trusted Redis data
	duration, _ := strconv.ParseInt(m["duration"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	wave, _ := strconv.Atoi(m["current_wave"])             //nolint:errcheck // best-effort parse from trusted Redis data
	version, _ := strconv.ParseInt(m["version"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data

	pay, _ := decimal.NewFromString(m["pay"]) //nolint:errcheck // best-effort parse from trusted Redis data

	expiresAt, _ := time.Parse(time.RFC3339Nano, m["expires_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: rush.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Title:       m["title"],
		Origin:      job.Origin{Lat: lat, Lng: lng},
		RadiusKm:    radius,
		Pay:         pay,
		Duration:    time.Duration(duration),
		Status:      job.Status(m["status"]),
		CurrentWave: wave,
		ExpiresAt:   expiresAt,
		Version:     version,
	}

	if v := m["employer_id"]; v != "" {
		j.EmployerID, _ = id.ParseEmployerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["skills"]; v != "" {
		j.Skills = unmarshalStrings(v)
	}
	if v := m["waves"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &j.Waves) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["lock_holder"]; v != "" {
		j.LockHolder, _ = id.ParseCandidateID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	j.LockedAt = parseTimePtr(m["locked_at"])
	j.LockExpiresAt = parseTimePtr(m["lock_expires_at"])
	if v := m["confirmed_worker"]; v != "" {
		j.ConfirmedWorker, _ = id.ParseCandidateID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	j.ConfirmedAt = parseTimePtr(m["confirmed_at"])
	if v := m["escrow_id"]; v != "" {
		j.EscrowID, _ = id.ParseEscrowID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return j, nil
}

// idString renders an ID, empty for the nil ID.
func idString(v id.ID) string {
	if v.IsNil() {
		return ""
	}
	return v.String()
}

// timeString renders an optional timestamp, empty when absent.
func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// parseTimePtr parses an optional timestamp, nil when empty.
func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
