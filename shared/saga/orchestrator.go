package saga

import (
	"context"
	"time"

	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator drives one saga instance: it executes the registered steps
// strictly in order, persists the record after every transition, and runs
// reverse-order compensation when a step fails. At most one orchestrator
// may be advancing a given saga id at a time; the persistence layer's
// version check turns a second writer into an error instead of corruption.
type Orchestrator struct {
	sagaCtx  *Context
	registry *registry
	store    Persistence
	record   *Record
	notify   *notifier

	compensationAttempts int
	compensationBackoff  time.Duration
}

// Option configures an orchestrator.
type Option func(*Orchestrator)

// WithPublisher enables lifecycle event publishing through the given
// publisher.
func WithPublisher(publisher events.Publisher) Option {
	return func(o *Orchestrator) {
		o.notify = &notifier{publisher: publisher}
	}
}

// WithCompensationRetry enables bounded retry of a failed compensation
// before the saga escalates to compensation_failed. The default is zero
// retries: first compensation failure escalates immediately.
func WithCompensationRetry(attempts int, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		o.compensationAttempts = attempts
		o.compensationBackoff = backoff
	}
}

// NewOrchestrator assembles an orchestrator for a new saga instance.
func NewOrchestrator(sagaCtx *Context, steps []Step, store Persistence, opts ...Option) (*Orchestrator, error) {
	reg, err := newRegistry(steps)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga definition")
	}
	if store == nil {
		return nil, errors.New("saga persistence is required")
	}

	o := &Orchestrator{
		sagaCtx:  sagaCtx,
		registry: reg,
		store:    store,
		record:   NewRecord(sagaCtx),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Resume assembles an orchestrator for a previously persisted saga. The
// step list must be the same definition the record was created with: the
// forward loop skips steps already in CompletedSteps and the compensation
// loop only undoes the ones still present.
func Resume(record *Record, steps []Step, store Persistence, opts ...Option) (*Orchestrator, error) {
	if record == nil {
		return nil, errors.New("nil saga record")
	}

	reg, err := newRegistry(steps)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga definition")
	}
	if store == nil {
		return nil, errors.New("saga persistence is required")
	}

	sagaCtx, err := ContextFromRecord(record.Context)
	if err != nil {
		return nil, errors.Wrap(err, "failed to restore saga context")
	}

	o := &Orchestrator{
		sagaCtx:  sagaCtx,
		registry: reg,
		store:    store,
		record:   record.Clone(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Record returns a copy of the current persisted projection.
func (o *Orchestrator) Record() *Record {
	return o.record.Clone()
}

// Execute runs the saga to a terminal state. Business outcomes, including
// step failures and compensation failures, are always reported through the
// Result; the error return is reserved for infrastructure and defect
// failures (persistence errors, illegal transitions), which leave the saga
// incomplete and eligible for recovery.
func (o *Orchestrator) Execute(ctx context.Context) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.execute", trace.WithAttributes(
		attribute.String("saga.id", o.record.ID.String()),
		attribute.String("saga.type", o.record.Type),
	))
	defer span.End()

	// Re-invoking a finished saga is a no-op that reports the stored
	// outcome.
	if o.record.State.IsTerminal() {
		return o.terminalResult(), nil
	}

	if o.record.State == StatePending {
		if err := o.transitionTo(StateRunning); err != nil {
			return nil, err
		}
		if err := o.persist(ctx); err != nil {
			return nil, err
		}
		o.publish(ctx, events.SagaStartedEvent)
		telemetry.RecordCounter(ctx, "saga_started_total", "Sagas started", 1,
			attribute.String("saga_type", o.record.Type))
	}

	// A record reloaded in compensating state goes straight back to the
	// reverse loop.
	if o.record.State == StateCompensating {
		return o.compensate(ctx, errors.New(o.record.Error))
	}

	for _, step := range o.registry.ordered {
		if o.record.HasCompleted(step.Name()) {
			continue
		}

		result := o.runExecute(ctx, step)
		if !result.Success() {
			stepErr := errors.Errorf("step %s failed: %s", step.Name(), result.Error())
			return o.compensate(ctx, stepErr)
		}

		o.sagaCtx.Merge(result.Data())
		o.record.CompletedSteps = append(o.record.CompletedSteps, step.Name())
		o.record.Context = o.sagaCtx.ToRecord()
		if err := o.persist(ctx); err != nil {
			return nil, err
		}
		o.publish(ctx, events.SagaStepCompletedEvent)
	}

	if err := o.transitionTo(StateCompleted); err != nil {
		return nil, err
	}
	o.markCompleted()
	if err := o.persist(ctx); err != nil {
		return nil, err
	}
	o.publish(ctx, events.SagaCompletedEvent)
	telemetry.RecordCounter(ctx, "saga_completed_total", "Sagas completed", 1,
		attribute.String("saga_type", o.record.Type))

	return CompletedResult(o.sagaCtx), nil
}

// compensate undoes the completed steps in reverse completion order. The
// first compensation failure stops the loop and escalates to
// compensation_failed; no further compensations are attempted.
func (o *Orchestrator) compensate(ctx context.Context, originalErr error) (*Result, error) {
	if o.record.State == StateRunning {
		if err := o.transitionTo(StateCompensating); err != nil {
			return nil, err
		}
		o.record.Error = originalErr.Error()
		if err := o.persist(ctx); err != nil {
			return nil, err
		}
	}

	for len(o.record.CompletedSteps) > 0 {
		last := len(o.record.CompletedSteps) - 1
		name := o.record.CompletedSteps[last]

		step, err := o.registry.resolve(name)
		if err != nil {
			// A completed step missing from the definition means the
			// record and the definition diverged. Defect, not business.
			return nil, errors.Wrap(err, "cannot compensate")
		}

		result := o.runCompensate(ctx, step)
		if !result.Success() {
			compErr := errors.Errorf("compensation of step %s failed: %s", name, result.Error())
			if err := o.transitionTo(StateCompensationFailed); err != nil {
				return nil, err
			}
			o.record.CompensationError = compErr.Error()
			o.markCompleted()
			if err := o.persist(ctx); err != nil {
				return nil, err
			}
			o.publish(ctx, events.SagaCompensationFailedEvent)
			telemetry.RecordCounter(ctx, "saga_compensation_failed_total", "Sagas requiring manual intervention", 1,
				attribute.String("saga_type", o.record.Type))
			return CompensationFailedResult(o.sagaCtx, originalErr, compErr), nil
		}

		o.sagaCtx.Merge(result.Data())
		// Dropping the step from the completed list is what lets a
		// resumed compensation skip work already undone.
		o.record.CompletedSteps = o.record.CompletedSteps[:last]
		o.record.Context = o.sagaCtx.ToRecord()
		if err := o.persist(ctx); err != nil {
			return nil, err
		}
	}

	if err := o.transitionTo(StateFailed); err != nil {
		return nil, err
	}
	o.markCompleted()
	if err := o.persist(ctx); err != nil {
		return nil, err
	}
	o.publish(ctx, events.SagaFailedEvent)
	telemetry.RecordCounter(ctx, "saga_failed_total", "Sagas failed and compensated", 1,
		attribute.String("saga_type", o.record.Type))

	return FailedResult(o.sagaCtx, originalErr), nil
}

// runExecute invokes a step's forward action, converting panics and timeout
// overruns into ordinary step failures. On timeout the underlying call is
// left to finish on its own; the at-least-once contract and the step's
// idempotency key absorb the overlap.
func (o *Orchestrator) runExecute(ctx context.Context, step Step) StepResult {
	ctx, span := telemetry.StartSpan(ctx, "saga.step.execute", trace.WithAttributes(
		attribute.String("saga.id", o.record.ID.String()),
		attribute.String("saga.step", step.Name()),
	))
	defer span.End()

	started := time.Now()
	defer func() {
		telemetry.RecordHistogram(ctx, "saga_step_duration_seconds", "Step execution duration", time.Since(started).Seconds(),
			attribute.String("saga_type", o.record.Type),
			attribute.String("step", step.Name()))
	}()

	resultCh := make(chan StepResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- StepFailure("step %s panicked: %v", step.Name(), p)
			}
		}()
		resultCh <- step.Execute(ctx, o.sagaCtx)
	}()

	timeout := step.Timeout()
	if timeout <= 0 {
		return <-resultCh
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		return result
	case <-timer.C:
		return StepFailure("step %s timed out after %s", step.Name(), timeout)
	case <-ctx.Done():
		return StepFailure("step %s aborted: %v", step.Name(), ctx.Err())
	}
}

// runCompensate invokes a step's compensation with panic recovery and the
// configured bounded retry. Compensations are not subject to the step
// timeout: abandoning a half-done undo is worse than waiting for it.
func (o *Orchestrator) runCompensate(ctx context.Context, step Step) StepResult {
	ctx, span := telemetry.StartSpan(ctx, "saga.step.compensate", trace.WithAttributes(
		attribute.String("saga.id", o.record.ID.String()),
		attribute.String("saga.step", step.Name()),
	))
	defer span.End()

	var result StepResult
	for attempt := 0; ; attempt++ {
		result = o.callCompensate(ctx, step)
		if result.Success() || attempt >= o.compensationAttempts {
			return result
		}

		backoff := o.compensationBackoff * time.Duration(attempt+1)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return result
		}
	}
}

func (o *Orchestrator) callCompensate(ctx context.Context, step Step) StepResult {
	resultCh := make(chan StepResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- StepFailure("compensation of step %s panicked: %v", step.Name(), p)
			}
		}()
		resultCh <- step.Compensate(ctx, o.sagaCtx)
	}()
	return <-resultCh
}

// transitionTo enforces the legality table. An illegal transition is a
// programming error in the orchestrator itself and fails fast.
func (o *Orchestrator) transitionTo(next State) error {
	if !o.record.State.CanTransitionTo(next) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", o.record.State, next)
	}
	o.record.State = next
	return nil
}

func (o *Orchestrator) persist(ctx context.Context) error {
	o.record.Timestamps = o.record.Timestamps.Update()
	o.record.Version = o.record.Version.Update()
	if err := o.store.Save(ctx, o.record); err != nil {
		return errors.Wrapf(err, "failed to persist saga %s", o.record.ID)
	}
	return nil
}

func (o *Orchestrator) markCompleted() {
	now := time.Now().UTC()
	o.record.CompletedAt = &now
}

func (o *Orchestrator) publish(ctx context.Context, eventType string) {
	// Lifecycle events are observability, not state: the durable record is
	// already written, so a broker failure must not fail the saga.
	if err := o.notify.publish(ctx, eventType, o.record); err != nil {
		telemetry.RecordCounter(ctx, "saga_event_publish_errors_total", "Lifecycle events dropped", 1,
			attribute.String("saga_type", o.record.Type))
	}
}

// terminalResult rebuilds the stored outcome of an already finished saga.
func (o *Orchestrator) terminalResult() *Result {
	switch o.record.State {
	case StateFailed:
		return FailedResult(o.sagaCtx, errors.New(o.record.Error))
	case StateCompensationFailed:
		return CompensationFailedResult(o.sagaCtx,
			errors.New(o.record.Error), errors.New(o.record.CompensationError))
	default:
		return CompletedResult(o.sagaCtx)
	}
}
