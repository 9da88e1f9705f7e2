// Package executor is the sole path through which agent domain logic may
// affect the outside world or defer to a human.
//
// Level A actions execute immediately with bounded retry. Level B actions
// are queued for human approval and never executed until Approve. Level C
// actions are recorded as briefs for the human to act on themselves.
// Every terminal outcome lands in the insert-only action_logs audit trail;
// an audit write failure never changes the result returned to the caller.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/kuria-ai/kuria/internal/model"
)

var meter = otel.GetMeterProvider().Meter("kuria/executor")

// ErrAlreadyDecided is returned when Approve or Reject targets a pending
// action that has already reached a terminal status. Double approval is
// refused, not replayed.
var ErrAlreadyDecided = errors.New("executor: pending action already decided")

// Operation performs the actual side effect of an action. Arguments are
// bound by the caller via closure. A nil error means the side effect
// happened; the returned map is recorded as the action's result payload.
type Operation func(ctx context.Context) (map[string]any, error)

// Store is the durable state the executor needs: the approval queue and
// the audit trail.
type Store interface {
	CreatePendingAction(ctx context.Context, p model.PendingAction) (model.PendingAction, error)
	// ClaimPendingAction atomically moves the action from pending to status.
	// claimed is false when the action exists but is no longer pending; the
	// returned record then carries its current status so the caller can tell
	// a lost race from a repeat of its own decision.
	ClaimPendingAction(ctx context.Context, id uuid.UUID, status model.ActionStatus, executedAt *time.Time) (p model.PendingAction, claimed bool, err error)
	UpdatePendingActionStatus(ctx context.Context, id uuid.UUID, status model.ActionStatus, executedAt *time.Time, result map[string]any) error
	InsertActionLog(ctx context.Context, l model.ActionLog) error
}

// Executor drives side-effecting calls with bounded retry and owns the
// human-approval state machine.
type Executor struct {
	store  Store
	logger *slog.Logger

	attempts  uint
	baseDelay time.Duration
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithBaseDelay overrides the first retry delay. Subsequent delays triple:
// base, 3*base, 9*base. Tests use a sub-millisecond base so the full
// three-attempt path runs without wall-clock sleeps.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Executor) { e.baseDelay = d }
}

// WithAttempts overrides the retry budget (total attempts, not retries).
func WithAttempts(n uint) Option {
	return func(e *Executor) { e.attempts = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor with the default 3-attempt, 1s/3s/9s retry policy.
func New(store Store, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		store:     store,
		logger:    logger,
		attempts:  3,
		baseDelay: time.Second,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run is the single entry point for proposed actions.
//
// Level A calls op synchronously with retry and returns a terminal result.
// Level B persists the action as pending and returns without calling op.
// Level C persists a brief for the human; the executor never executes it.
//
// Run never panics and never returns an error: a failed action becomes a
// terminal "failed" result so one bad action cannot abort the agent run
// that proposed it.
func (e *Executor) Run(ctx context.Context, action model.Action, op Operation) model.ActionResult {
	switch action.Level {
	case model.LevelSupervised:
		return e.queueForApproval(ctx, action)
	case model.LevelAssisted:
		return e.logBrief(ctx, action)
	default:
		return e.executeWithRetry(ctx, action, op)
	}
}

// Approve resumes a queued level-B action after a human accepted it.
// The pending record moves to running, the operation executes through the
// same retry path as level A, and the terminal status is written back onto
// the record. Approving an already-terminal action returns
// ErrAlreadyDecided.
//
// The pending->running transition is a single conditional update, so two
// concurrent approvals of the same id cannot both win: exactly one claims
// the record and executes, the other gets ErrAlreadyDecided.
func (e *Executor) Approve(ctx context.Context, id uuid.UUID, op Operation) (model.ActionResult, error) {
	pending, claimed, err := e.store.ClaimPendingAction(ctx, id, model.ActionRunning, nil)
	if err != nil {
		return model.ActionResult{}, fmt.Errorf("executor: claim pending action: %w", err)
	}
	if !claimed {
		return model.ActionResult{}, ErrAlreadyDecided
	}

	action := model.Action{
		Type:        pending.ActionType,
		Level:       model.LevelAutonomous, // executes now
		TenantID:    pending.TenantID,
		Agent:       pending.Agent,
		Payload:     pending.Payload,
		Description: pending.Description,
	}
	result := e.executeWithRetry(ctx, action, op)

	executedAt := result.ExecutedAt
	if err := e.store.UpdatePendingActionStatus(ctx, id, result.Status, &executedAt, result.Result); err != nil {
		// The audit log already has the terminal outcome; the stale pending
		// row is logged and left for the next reconciliation.
		e.logger.Error("executor: write back pending status", "id", id, "error", err)
	}
	return result, nil
}

// Reject marks a queued action cancelled. Rejecting an already-cancelled
// action is an idempotent no-op; rejecting an action that ran to success or
// failure returns ErrAlreadyDecided.
func (e *Executor) Reject(ctx context.Context, id uuid.UUID) error {
	now := e.now()
	pending, claimed, err := e.store.ClaimPendingAction(ctx, id, model.ActionCancelled, &now)
	if err != nil {
		return fmt.Errorf("executor: claim pending action: %w", err)
	}
	if !claimed {
		if pending.Status == model.ActionCancelled {
			return nil
		}
		return ErrAlreadyDecided
	}
	e.logger.Info("action rejected by human", "id", id, "action_type", pending.ActionType, "tenant_id", pending.TenantID)
	return nil
}

// executeWithRetry runs op up to e.attempts times with exponential backoff
// and logs the terminal outcome to the audit trail. All errors consume the
// same retry budget; no retryable/fatal distinction is made.
func (e *Executor) executeWithRetry(ctx context.Context, action model.Action, op Operation) model.ActionResult {
	var (
		attempts   int
		lastErr    error
		lastResult map[string]any
	)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// 1s, 3s, 9s with the default base.
			d := e.baseDelay
			for i := uint(0); i < n; i++ {
				d *= 3
			}
			return d
		}),
	)

	err := r.Do(func() error {
		attempts++
		e.logger.Info("executing action",
			"agent", action.Agent, "action_type", action.Type,
			"tenant_id", action.TenantID, "attempt", attempts, "max_attempts", e.attempts)

		result, opErr := op(ctx)
		if opErr != nil {
			lastErr = opErr
			e.logger.Warn("action attempt failed",
				"agent", action.Agent, "action_type", action.Type,
				"attempt", attempts, "error", opErr)
			return opErr
		}
		lastResult = result
		return nil
	})

	result := model.ActionResult{
		ActionType: action.Type,
		ExecutedAt: e.now(),
		Attempts:   attempts,
	}
	if err != nil {
		result.Status = model.ActionFailed
		if lastErr != nil {
			result.Error = lastErr.Error()
		} else {
			result.Error = err.Error()
		}
		e.logger.Error("action failed after all attempts",
			"agent", action.Agent, "action_type", action.Type,
			"attempts", attempts, "error", result.Error)
	} else {
		result.Status = model.ActionSuccess
		result.Result = lastResult
	}

	e.logAction(ctx, action, result)
	e.record(ctx, action, result.Status)
	return result
}

// queueForApproval persists a level-B action as pending. The operation is
// not invoked; Approve executes it later.
func (e *Executor) queueForApproval(ctx context.Context, action model.Action) model.ActionResult {
	stored, err := e.store.CreatePendingAction(ctx, pendingFromAction(action))
	if err != nil {
		// Queueing is itself a side effect that can fail; surface it as a
		// terminal failure rather than pretending the action is queued.
		e.logger.Error("queue pending action", "action_type", action.Type, "tenant_id", action.TenantID, "error", err)
		result := model.ActionResult{
			ActionType: action.Type,
			Status:     model.ActionFailed,
			ExecutedAt: e.now(),
			Error:      err.Error(),
		}
		e.record(ctx, action, result.Status)
		return result
	}

	e.logger.Info("action queued for approval",
		"agent", action.Agent, "action_type", action.Type, "tenant_id", action.TenantID, "id", stored.ID)
	e.record(ctx, action, model.ActionPending)

	return model.ActionResult{
		ActionType: action.Type,
		Status:     model.ActionPending,
		ExecutedAt: e.now(),
		Result:     map[string]any{"queued": true, "id": stored.ID.String(), "description": action.Description},
	}
}

// logBrief persists a level-C action as a brief for the human to act on.
func (e *Executor) logBrief(ctx context.Context, action model.Action) model.ActionResult {
	stored, err := e.store.CreatePendingAction(ctx, pendingFromAction(action))
	if err != nil {
		e.logger.Error("log assisted action", "action_type", action.Type, "tenant_id", action.TenantID, "error", err)
		result := model.ActionResult{
			ActionType: action.Type,
			Status:     model.ActionFailed,
			ExecutedAt: e.now(),
			Error:      err.Error(),
		}
		e.record(ctx, action, result.Status)
		return result
	}

	e.logger.Info("brief recorded for manual action",
		"agent", action.Agent, "action_type", action.Type, "tenant_id", action.TenantID, "id", stored.ID)
	e.record(ctx, action, model.ActionPending)

	return model.ActionResult{
		ActionType: action.Type,
		Status:     model.ActionPending,
		ExecutedAt: e.now(),
		Result:     map[string]any{"brief_ready": true, "id": stored.ID.String()},
	}
}

// logAction appends the terminal outcome to the audit trail. A failed
// write is logged and swallowed: the audit log must never change the
// outcome of the action it records.
func (e *Executor) logAction(ctx context.Context, action model.Action, result model.ActionResult) {
	err := e.store.InsertActionLog(ctx, model.ActionLog{
		ActionType: action.Type,
		Level:      action.Level,
		TenantID:   action.TenantID,
		Agent:      action.Agent,
		Payload:    action.Payload,
		Status:     result.Status,
		Result:     result.Result,
		Error:      result.Error,
		Attempts:   result.Attempts,
		ExecutedAt: result.ExecutedAt,
	})
	if err != nil {
		e.logger.Error("write action audit log", "action_type", action.Type, "tenant_id", action.TenantID, "error", err)
	}
}

func (e *Executor) record(ctx context.Context, action model.Action, status model.ActionStatus) {
	if counter, err := meter.Int64Counter("kuria.actions.total"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("level", string(action.Level)),
			attribute.String("status", string(status)),
		))
	}
}

func pendingFromAction(action model.Action) model.PendingAction {
	return model.PendingAction{
		ActionType:  action.Type,
		Level:       action.Level,
		TenantID:    action.TenantID,
		Agent:       action.Agent,
		Payload:     action.Payload,
		Description: action.Description,
		Preview:     action.Preview,
		Status:      model.ActionPending,
	}
}
