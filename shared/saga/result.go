package saga

import "fmt"

// StepResult is the outcome of executing or compensating a single step.
// Exactly one of the two branches is populated: output data on success, an
// error message on failure.
type StepResult struct {
	data map[string]interface{}
	err  string
}

// StepSuccess creates a successful step result carrying output data.
// A nil data map is valid for steps that produce nothing.
func StepSuccess(data map[string]interface{}) StepResult {
	return StepResult{data: data}
}

// StepFailure creates a failed step result with a formatted error message.
func StepFailure(format string, args ...interface{}) StepResult {
	return StepResult{err: fmt.Sprintf(format, args...)}
}

// Success reports whether the step succeeded.
func (r StepResult) Success() bool {
	return r.err == ""
}

// Data returns the output data of a successful step.
func (r StepResult) Data() map[string]interface{} {
	return r.data
}

// Error returns the failure message, empty on success.
func (r StepResult) Error() string {
	return r.err
}

// Result is the terminal outcome of a saga execution, returned to the
// caller. Business failures arrive here, never as Go errors.
type Result struct {
	State           State
	Context         *Context
	Err             error
	CompensationErr error
}

// CompletedResult builds the result for a fully successful saga.
func CompletedResult(sagaCtx *Context) *Result {
	return &Result{State: StateCompleted, Context: sagaCtx}
}

// FailedResult builds the result for a saga whose failed step was fully
// compensated.
func FailedResult(sagaCtx *Context, err error) *Result {
	return &Result{State: StateFailed, Context: sagaCtx, Err: err}
}

// CompensationFailedResult builds the result for a saga stuck mid
// compensation. Both the original step error and the compensation error are
// preserved; the record requires operator intervention.
func CompensationFailedResult(sagaCtx *Context, err, compensationErr error) *Result {
	return &Result{
		State:           StateCompensationFailed,
		Context:         sagaCtx,
		Err:             err,
		CompensationErr: compensationErr,
	}
}

// Completed reports whether the saga finished without any step failure.
func (r *Result) Completed() bool {
	return r.State == StateCompleted
}
