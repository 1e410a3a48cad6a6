package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantgate/internal/telemetry"
)

// Sentinel errors for tenant context failures. Missing ids are caller
// errors; a failed configuration statement is fatal to the one request.
var (
	ErrMissingUser      = errors.New("missing user id for tenant context")
	ErrMissingOrg       = errors.New("missing organization id for tenant context")
	ErrSetContextFailed = errors.New("failed to set tenant context")
)

// UnitOfWork is the database work wrapped by one tenant context. It runs
// inside the transaction carrying the context; its error propagates
// unchanged and rolls the transaction back.
type UnitOfWork func(ctx context.Context, tx pgx.Tx) error

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Propagator makes the authenticated user and active organization visible to
// row-level-security policies for exactly one transaction. The configuration
// is applied with set_config(..., true), which is transaction-local: it is
// discarded at commit or rollback, so a pooled connection handed to an
// unrelated request immediately afterwards carries no tenant identity.
type Propagator struct {
	pool TxBeginner
	tel  *telemetry.Metrics

	mu            sync.Mutex
	count         int64
	failures      int64
	totalDuration time.Duration
}

// Metrics is an aggregate health snapshot of context propagation.
type Metrics struct {
	Count           int64         `json:"count"`
	Failures        int64         `json:"failures"`
	AverageDuration time.Duration `json:"average_duration"`
}

// NewPropagator creates a tenant context propagator over a connection pool.
func NewPropagator(pool TxBeginner) *Propagator {
	return &Propagator{
		pool: pool,
		tel:  telemetry.GetMetrics(),
	}
}

// WithContext runs fn inside a transaction whose tenant context is set to
// (userID, orgID). fn never executes without successfully applied context:
// missing ids fail before a connection is touched, and a failed
// configuration statement aborts the transaction before fn runs.
func (p *Propagator) WithContext(ctx context.Context, userID, orgID uuid.UUID, fn UnitOfWork) error {
	if userID == uuid.Nil {
		return ErrMissingUser
	}
	if orgID == uuid.Nil {
		return ErrMissingOrg
	}

	started := time.Now()
	err := p.withContext(ctx, userID, orgID, fn)
	p.record(ctx, time.Since(started), err)
	return err
}

func (p *Propagator) withContext(ctx context.Context, userID, orgID uuid.UUID, fn UnitOfWork) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tenant transaction: %w", err)
	}

	// Rollback after commit is a no-op; this guarantees the transaction, and
	// with it the tenant context, is released on every path.
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Warn().Err(rbErr).Msg("Failed to roll back tenant transaction")
		}
	}()

	// set_config with is_local=true scopes both values to this transaction
	// only, never to the pooled connection.
	_, err = tx.Exec(ctx,
		`SELECT set_config('app.user_id', $1, true), set_config('app.org_id', $2, true)`,
		userID.String(), orgID.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSetContextFailed, err)
	}

	if err := fn(ctx, tx); err != nil {
		// Propagate unchanged; the deferred rollback releases the context.
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tenant transaction: %w", err)
	}

	return nil
}

// Metrics returns aggregated invocation counts and average duration.
func (p *Propagator) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		Count:    p.count,
		Failures: p.failures,
	}
	if p.count > 0 {
		m.AverageDuration = p.totalDuration / time.Duration(p.count)
	}
	return m
}

func (p *Propagator) record(ctx context.Context, duration time.Duration, err error) {
	p.mu.Lock()
	p.count++
	p.totalDuration += duration
	if err != nil {
		p.failures++
	}
	p.mu.Unlock()

	p.tel.TenantContextTotal.Add(ctx, 1)
	p.tel.TenantContextDuration.Record(ctx, float64(duration.Milliseconds()))
	if err != nil {
		p.tel.TenantContextErrorsTotal.Add(ctx, 1)
	}
}
