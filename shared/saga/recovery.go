package saga

import (
	"context"
	"time"

	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// StepsFactory builds the ordered step list for one saga type, so the
// sweeper can rebuild orchestrators for records loaded from storage.
type StepsFactory func() []Step

// Sweeper is the scheduled recovery job: it scans for incomplete saga
// records, resumes each one through a fresh orchestrator, and dead-letters
// records that have exhausted their attempt budget. Records of different
// saga ids are resumed concurrently; the store's version check guards
// against racing a live orchestrator on the same id.
type Sweeper struct {
	store       Persistence
	definitions map[string]StepsFactory
	maxAttempts int
	interval    time.Duration
	concurrency int
	orchOpts    []Option
	publisher   events.Publisher
}

// SweeperOption configures a sweeper.
type SweeperOption func(*Sweeper)

// WithMaxAttempts sets the recovery budget per saga before dead-lettering.
func WithMaxAttempts(attempts int) SweeperOption {
	return func(s *Sweeper) { s.maxAttempts = attempts }
}

// WithInterval sets the period between sweeps.
func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = interval }
}

// WithConcurrency bounds how many sagas one sweep resumes in parallel.
func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) { s.concurrency = n }
}

// WithSweeperPublisher wires lifecycle events for resumed sagas and
// dead-letter notifications.
func WithSweeperPublisher(publisher events.Publisher) SweeperOption {
	return func(s *Sweeper) {
		s.publisher = publisher
		s.orchOpts = append(s.orchOpts, WithPublisher(publisher))
	}
}

// NewSweeper creates a recovery sweeper over the given store.
func NewSweeper(store Persistence, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:       store,
		definitions: make(map[string]StepsFactory),
		maxAttempts: 5,
		interval:    time.Minute,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds a saga type to its step definition.
func (s *Sweeper) Register(sagaType string, factory StepsFactory) {
	s.definitions[sagaType] = factory
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				telemetry.RecordCounter(ctx, "saga_sweep_errors_total", "Failed recovery sweeps", 1)
			}
		}
	}
}

// SweepOnce performs a single recovery pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	records, err := s.store.FindIncomplete(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list incomplete sagas")
	}

	gr, ctx := errgroup.WithContext(ctx)
	gr.SetLimit(s.concurrency)

	for _, record := range records {
		record := record
		gr.Go(func() error {
			return s.resume(ctx, record)
		})
	}

	return gr.Wait()
}

func (s *Sweeper) resume(ctx context.Context, record *Record) error {
	if record.Attempts >= s.maxAttempts {
		return s.deadLetter(ctx, record)
	}

	factory, ok := s.definitions[record.Type]
	if !ok {
		// Unknown types stay incomplete; they are someone else's sagas or
		// a deploy skew. Dead-lettering them would destroy recoverable
		// work.
		telemetry.RecordCounter(ctx, "saga_sweep_unknown_type_total", "Incomplete sagas of unregistered type", 1,
			attribute.String("saga_type", record.Type))
		return nil
	}

	record = record.Clone()
	record.Attempts++

	orchestrator, err := Resume(record, factory(), s.store, s.orchOpts...)
	if err != nil {
		return errors.Wrapf(err, "failed to rebuild saga %s", record.ID)
	}

	telemetry.RecordCounter(ctx, "saga_resumed_total", "Sagas resumed by recovery sweep", 1,
		attribute.String("saga_type", record.Type))

	if _, err := orchestrator.Execute(ctx); err != nil {
		// A version conflict means a live orchestrator got there first;
		// that is the single-writer guard working, not a sweep failure.
		if errors.Is(err, ErrVersionConflict) {
			return nil
		}
		return errors.Wrapf(err, "failed to resume saga %s", record.ID)
	}
	return nil
}

func (s *Sweeper) deadLetter(ctx context.Context, record *Record) error {
	if err := s.store.MarkDeadLettered(ctx, record.ID); err != nil {
		return errors.Wrapf(err, "failed to dead-letter saga %s", record.ID)
	}

	telemetry.RecordCounter(ctx, "saga_dead_lettered_total", "Sagas dead-lettered after exhausting recovery attempts", 1,
		attribute.String("saga_type", record.Type))

	if s.publisher != nil {
		event := events.NewEvent(record.ID, events.SagaDeadLetteredEvent, LifecycleData{
			SagaID:        record.ID.String(),
			SagaType:      record.Type,
			CorrelationID: record.CorrelationID.String(),
			State:         record.State.String(),
			Error:         record.Error,
		}).WithCorrelationID(record.CorrelationID)
		if err := s.publisher.Publish(ctx, event); err != nil {
			telemetry.RecordCounter(ctx, "saga_event_publish_errors_total", "Lifecycle events dropped", 1,
				attribute.String("saga_type", record.Type))
		}
	}
	return nil
}
