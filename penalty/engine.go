package penalty

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/id"
)

// Standard consequence parameters.
const (
	CancelBan        = 24 * time.Hour
	CancelTrustDelta = -10

	NoShowBan        = 168 * time.Hour
	NoShowTrustDelta = -30
)

// Emitter emits penalty lifecycle hooks.
// hook.Registry satisfies this interface via EmitPenaltyApplied.
type Emitter interface {
	EmitPenaltyApplied(ctx context.Context, r *Record)
}

// Engine applies penalties. Candidate bans and reputation go through the
// candidate store; employer money consequences delegate to the escrow
// ledger's Penalize.
type Engine struct {
	store      Store
	candidates candidate.Store
	ledger     *escrow.Ledger
	emitter    Emitter
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets the hook emitter notified on applied penalties.
func WithEmitter(e Emitter) Option {
	return func(p *Engine) { p.emitter = e }
}

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(p *Engine) { p.logger = lg }
}

// NewEngine creates a penalty Engine.
func NewEngine(store Store, candidates candidate.Store, ledger *escrow.Ledger, opts ...Option) *Engine {
	p := &Engine{
		store:      store,
		candidates: candidates,
		ledger:     ledger,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StudentCancel penalizes a candidate who backed out: 24h ban, −10 trust.
func (p *Engine) StudentCancel(ctx context.Context, jobID id.JobID, candID id.CandidateID) (*Record, error) {
	return p.banCandidate(ctx, TypeStudentCancel, jobID, candID, CancelBan, CancelTrustDelta, "cancelled after commitment")
}

// StudentNoShow penalizes a candidate who never arrived: 168h ban, −30 trust.
func (p *Engine) StudentNoShow(ctx context.Context, jobID id.JobID, candID id.CandidateID) (*Record, error) {
	return p.banCandidate(ctx, TypeStudentNoShow, jobID, candID, NoShowBan, NoShowTrustDelta, "no-show")
}

func (p *Engine) banCandidate(ctx context.Context, t Type, jobID id.JobID, candID id.CandidateID, ban time.Duration, delta int, note string) (*Record, error) {
	c, err := p.candidates.GetCandidate(ctx, candID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	banUntil := now.Add(ban)
	// Bans never shorten: keep the later of the existing unexpired ban
	// and the newly computed one.
	if c.BannedUntil.After(banUntil) {
		banUntil = c.BannedUntil
	}

	if err := p.candidates.ApplyPenalty(ctx, candID, banUntil, delta); err != nil {
		return nil, err
	}

	r := &Record{
		ID:         id.NewPenaltyID(),
		Type:       t,
		JobID:      jobID,
		ActorID:    candID,
		AppliedAt:  now,
		BanUntil:   &banUntil,
		TrustDelta: delta,
		Note:       note,
	}
	if err := p.store.AppendPenalty(ctx, r); err != nil {
		return nil, err
	}

	p.logger.Info("candidate penalized",
		slog.String("type", string(t)),
		slog.String("candidate_id", candID.String()),
		slog.String("job_id", jobID.String()),
		slog.Time("ban_until", banUntil),
		slog.Int("trust_delta", delta),
	)
	p.applied(ctx, r)
	return r, nil
}

// EmployerCancel charges the employer a cancellation fee through the
// escrow ledger and records it on the employer's history. Returns the
// computed fee for caller-side reporting.
func (p *Engine) EmployerCancel(ctx context.Context, jobID id.JobID, employerID id.EmployerID, escrowID id.EscrowID, penaltyPercent decimal.Decimal) (decimal.Decimal, error) {
	_, fee, err := p.ledger.Penalize(ctx, escrowID, penaltyPercent)
	if err != nil {
		return decimal.Zero, err
	}

	r := &Record{
		ID:        id.NewPenaltyID(),
		Type:      TypeEmployerCancel,
		JobID:     jobID,
		ActorID:   employerID,
		AppliedAt: time.Now().UTC(),
		FeeAmount: fee,
		Note:      "cancellation fee",
	}
	if err := p.store.AppendPenalty(ctx, r); err != nil {
		return decimal.Zero, err
	}

	p.logger.Info("employer penalized",
		slog.String("employer_id", employerID.String()),
		slog.String("job_id", jobID.String()),
		slog.String("fee", fee.String()),
	)
	p.applied(ctx, r)
	return fee, nil
}

// History returns the actor's penalty records.
func (p *Engine) History(ctx context.Context, actorID id.AnyID) ([]*Record, error) {
	return p.store.ListPenalties(ctx, actorID)
}

func (p *Engine) applied(ctx context.Context, r *Record) {
	if p.emitter != nil {
		p.emitter.EmitPenaltyApplied(ctx, r)
	}
}
