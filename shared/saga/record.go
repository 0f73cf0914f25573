package saga

import (
	"context"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

var (
	// ErrIllegalTransition marks a state transition outside the legality
	// table. It indicates a defect in the orchestrator, not a business
	// failure, and is never converted into a saga Result.
	ErrIllegalTransition = errors.New("illegal saga state transition")

	// ErrVersionConflict marks a concurrent writer on the same saga record.
	ErrVersionConflict = errors.New("saga record version conflict")

	// ErrRecordNotFound marks a lookup for a saga id that was never saved.
	ErrRecordNotFound = errors.New("saga record not found")
)

// Record is the persisted projection of a saga instance. It is mutated only
// by the owning orchestrator, after every step and state transition. The
// ordering of CompletedSteps is authoritative for compensation.
type Record struct {
	ID                models.ID
	Type              string
	CorrelationID     models.ID
	State             State
	CompletedSteps    []string
	Context           *ContextRecord
	Error             string
	CompensationError string
	Attempts          int
	DeadLettered      bool
	Version           models.Version
	Timestamps        models.Timestamps
	CompletedAt       *time.Time
}

// NewRecord creates the initial record for a freshly started saga.
func NewRecord(sagaCtx *Context) *Record {
	return &Record{
		ID:             sagaCtx.SagaID(),
		Type:           sagaCtx.SagaType(),
		CorrelationID:  sagaCtx.CorrelationID(),
		State:          StatePending,
		CompletedSteps: []string{},
		Context:        sagaCtx.ToRecord(),
		Version:        models.Version{}, // bumped to 1 on the first save
		Timestamps:     models.NewTimestamps(),
	}
}

// Incomplete reports whether the record is still eligible for recovery.
func (r *Record) Incomplete() bool {
	return !r.State.IsTerminal() && !r.DeadLettered
}

// HasCompleted reports whether the named step is in the completed list.
func (r *Record) HasCompleted(stepName string) bool {
	for _, name := range r.CompletedSteps {
		if name == stepName {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record. Stores hand out clones so callers
// cannot mutate persisted state in place.
func (r *Record) Clone() *Record {
	clone := *r
	clone.CompletedSteps = append([]string(nil), r.CompletedSteps...)
	if r.Context != nil {
		ctxCopy := *r.Context
		ctxCopy.Data = make(map[string]interface{}, len(r.Context.Data))
		for k, v := range r.Context.Data {
			ctxCopy.Data[k] = v
		}
		clone.Context = &ctxCopy
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		clone.CompletedAt = &at
	}
	return &clone
}

// Persistence is the durable record of saga progress. Save is a full upsert
// of the record and must be atomic: state, completed steps and context are
// written together or not at all, since recovery correctness depends on the
// three being mutually consistent. Implementations enforce the single writer
// invariant with an optimistic version check and return ErrVersionConflict
// on a concurrent write.
type Persistence interface {
	Save(ctx context.Context, record *Record) error
	FindByID(ctx context.Context, id models.ID) (*Record, error)
	FindIncomplete(ctx context.Context) ([]*Record, error)
	FindByCorrelationID(ctx context.Context, correlationID models.ID) ([]*Record, error)
	MarkDeadLettered(ctx context.Context, id models.ID) error
}
