package saga

import (
	"context"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// Step is one unit of forward work plus its compensating action. Step
// implementations are stateless with respect to the saga instance: all
// instance data flows through the Context and the StepResult.
//
// Execute must be safe to call more than once for the same saga; steps are
// expected to deduplicate against their downstream system using the
// idempotency key derived from (saga id, step name). Compensate must treat
// "nothing to undo" as success, since compensations may themselves be
// retried.
type Step interface {
	// Name is the stable identifier of the step, unique within one saga
	// definition. It is the persistence key for completed steps.
	Name() string

	// Execute performs the forward action.
	Execute(ctx context.Context, sagaCtx *Context) StepResult

	// Compensate undoes the effect of a prior successful Execute.
	Compensate(ctx context.Context, sagaCtx *Context) StepResult

	// IsIdempotent advertises whether Execute dedups on re-invocation.
	// Informational for callers and monitoring, not enforced.
	IsIdempotent() bool

	// Timeout is the advisory execution budget for one Execute call. The
	// orchestrator converts an overrun into an ordinary step failure; it
	// does not kill the underlying operation.
	Timeout() time.Duration
}

// IdempotencyKey derives the deterministic key a step uses to detect
// duplicate execution for the same saga.
func IdempotencyKey(sagaID models.ID, stepName string) string {
	return sagaID.String() + "/" + stepName
}

// registry resolves steps by name. Built once at orchestrator construction
// from the ordered step list; duplicate or empty names are definition
// defects.
type registry struct {
	ordered []Step
	byName  map[string]Step
}

func newRegistry(steps []Step) (*registry, error) {
	if len(steps) == 0 {
		return nil, errors.New("saga definition has no steps")
	}

	byName := make(map[string]Step, len(steps))
	for _, step := range steps {
		name := step.Name()
		if name == "" {
			return nil, errors.New("saga step has empty name")
		}
		if _, exists := byName[name]; exists {
			return nil, errors.Errorf("duplicate saga step name: %s", name)
		}
		byName[name] = step
	}

	return &registry{ordered: steps, byName: byName}, nil
}

func (r *registry) resolve(name string) (Step, error) {
	step, ok := r.byName[name]
	if !ok {
		return nil, errors.Errorf("unknown saga step: %s", name)
	}
	return step, nil
}
