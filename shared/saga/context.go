package saga

import (
	"encoding/json"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// Context is the data bag carried through a whole saga. It identifies the
// saga instance and accumulates the data produced by steps. The orchestrator
// is its single writer; steps only read it and propose merges through their
// StepResult data.
type Context struct {
	sagaID        models.ID
	sagaType      string
	correlationID models.ID
	startedAt     time.Time
	data          map[string]interface{}
}

// NewContext creates the context for a new saga instance.
func NewContext(sagaType string, correlationID models.ID, initial map[string]interface{}) *Context {
	data := make(map[string]interface{}, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &Context{
		sagaID:        models.GenerateUUID(),
		sagaType:      sagaType,
		correlationID: correlationID,
		startedAt:     time.Now().UTC(),
		data:          data,
	}
}

func (c *Context) SagaID() models.ID        { return c.sagaID }
func (c *Context) SagaType() string         { return c.sagaType }
func (c *Context) CorrelationID() models.ID { return c.correlationID }
func (c *Context) StartedAt() time.Time     { return c.startedAt }

// Set stores a value under key.
func (c *Context) Set(key string, value interface{}) {
	c.data[key] = value
}

// Get returns the value stored under key, or def when absent.
func (c *Context) Get(key string, def interface{}) interface{} {
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// GetString returns the value under key as a string, or def when absent or
// not a string.
func (c *Context) GetString(key, def string) string {
	if v, ok := c.data[key].(string); ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Merge copies all entries of m into the context.
func (c *Context) Merge(m map[string]interface{}) {
	for k, v := range m {
		c.data[k] = v
	}
}

// Data returns a copy of the key/value data.
func (c *Context) Data() map[string]interface{} {
	out := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// ContextRecord is the storable projection of a Context.
type ContextRecord struct {
	SagaID        string                 `json:"saga_id"`
	SagaType      string                 `json:"saga_type"`
	CorrelationID string                 `json:"correlation_id"`
	StartedAt     time.Time              `json:"started_at"`
	Data          map[string]interface{} `json:"data"`
}

// ToRecord serializes the context for persistence. Round-tripping through
// ContextFromRecord preserves identity and data exactly.
func (c *Context) ToRecord() *ContextRecord {
	return &ContextRecord{
		SagaID:        c.sagaID.String(),
		SagaType:      c.sagaType,
		CorrelationID: c.correlationID.String(),
		StartedAt:     c.startedAt,
		Data:          c.Data(),
	}
}

// ContextFromRecord rebuilds a context from its stored projection.
func ContextFromRecord(rec *ContextRecord) (*Context, error) {
	if rec == nil {
		return nil, errors.New("nil context record")
	}
	if rec.SagaID == "" {
		return nil, errors.New("context record has no saga id")
	}

	data := make(map[string]interface{}, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}

	return &Context{
		sagaID:        models.ID(rec.SagaID),
		sagaType:      rec.SagaType,
		correlationID: models.ID(rec.CorrelationID),
		startedAt:     rec.StartedAt,
		data:          data,
	}, nil
}

// MarshalContext serializes a context record to JSON for storage columns.
func MarshalContext(rec *ContextRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal saga context")
	}
	return b, nil
}

// UnmarshalContext deserializes a stored context column.
func UnmarshalContext(b []byte) (*ContextRecord, error) {
	var rec ContextRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal saga context")
	}
	return &rec, nil
}
