package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresSagaStore implements saga.Persistence using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE saga_records (
//	    id                 UUID PRIMARY KEY,
//	    type               TEXT NOT NULL,
//	    correlation_id     TEXT NOT NULL,
//	    state              TEXT NOT NULL,
//	    completed_steps    JSONB NOT NULL,
//	    context            JSONB NOT NULL,
//	    error              TEXT NOT NULL DEFAULT '',
//	    compensation_error TEXT NOT NULL DEFAULT '',
//	    attempts           INT NOT NULL DEFAULT 0,
//	    dead_lettered      BOOLEAN NOT NULL DEFAULT FALSE,
//	    version            INT NOT NULL,
//	    created_at         TIMESTAMPTZ NOT NULL,
//	    updated_at         TIMESTAMPTZ NOT NULL,
//	    completed_at       TIMESTAMPTZ
//	);
//	CREATE INDEX idx_saga_records_state ON saga_records (state);
//	CREATE INDEX idx_saga_records_type_state ON saga_records (type, state);
//	CREATE INDEX idx_saga_records_correlation ON saga_records (correlation_id);
type PostgresSagaStore struct {
	db *sqlx.DB
}

// NewPostgresSagaStore creates a new PostgresSagaStore
func NewPostgresSagaStore(db *sqlx.DB) *PostgresSagaStore {
	return &PostgresSagaStore{db: db}
}

var _ saga.Persistence = (*PostgresSagaStore)(nil)

// postgresSagaRecord represents a saga record in the database
type postgresSagaRecord struct {
	ID                string     `db:"id"`
	Type              string     `db:"type"`
	CorrelationID     string     `db:"correlation_id"`
	State             string     `db:"state"`
	CompletedSteps    []byte     `db:"completed_steps"`
	Context           []byte     `db:"context"`
	Error             string     `db:"error"`
	CompensationError string     `db:"compensation_error"`
	Attempts          int        `db:"attempts"`
	DeadLettered      bool       `db:"dead_lettered"`
	Version           int        `db:"version"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	CompletedAt       *time.Time `db:"completed_at"`
}

// Save upserts the full record in one atomic statement. State, completed
// steps and context land together or not at all; a version mismatch means a
// concurrent writer and surfaces as saga.ErrVersionConflict.
func (s *PostgresSagaStore) Save(ctx context.Context, record *saga.Record) error {
	pgRecord, err := s.toPostgres(record)
	if err != nil {
		return err
	}

	if record.Version.Value == 1 {
		return s.insertRecord(ctx, pgRecord)
	}
	return s.updateRecord(ctx, pgRecord)
}

func (s *PostgresSagaStore) insertRecord(ctx context.Context, pgRecord *postgresSagaRecord) error {
	query := `
		INSERT INTO saga_records (
			id, type, correlation_id, state, completed_steps, context,
			error, compensation_error, attempts, dead_lettered, version,
			created_at, updated_at, completed_at
		) VALUES (
			:id, :type, :correlation_id, :state, :completed_steps, :context,
			:error, :compensation_error, :attempts, :dead_lettered, :version,
			:created_at, :updated_at, :completed_at
		)`

	_, err := s.db.NamedExecContext(ctx, query, pgRecord)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return saga.ErrVersionConflict
		}
		return errors.Wrap(err, "failed to insert saga record")
	}
	return nil
}

func (s *PostgresSagaStore) updateRecord(ctx context.Context, pgRecord *postgresSagaRecord) error {
	query := `
		UPDATE saga_records
		SET state = :state,
		    completed_steps = :completed_steps,
		    context = :context,
		    error = :error,
		    compensation_error = :compensation_error,
		    attempts = :attempts,
		    dead_lettered = :dead_lettered,
		    version = :version,
		    updated_at = :updated_at,
		    completed_at = :completed_at
		WHERE id = :id AND version = :old_version`

	result, err := s.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                 pgRecord.ID,
		"state":              pgRecord.State,
		"completed_steps":    pgRecord.CompletedSteps,
		"context":            pgRecord.Context,
		"error":              pgRecord.Error,
		"compensation_error": pgRecord.CompensationError,
		"attempts":           pgRecord.Attempts,
		"dead_lettered":      pgRecord.DeadLettered,
		"version":            pgRecord.Version,
		"updated_at":         pgRecord.UpdatedAt,
		"completed_at":       pgRecord.CompletedAt,
		"old_version":        pgRecord.Version - 1, // Optimistic locking
	})
	if err != nil {
		return errors.Wrap(err, "failed to update saga record")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check saga record update")
	}
	if affected == 0 {
		return saga.ErrVersionConflict
	}
	return nil
}

// FindByID finds a saga record by ID
func (s *PostgresSagaStore) FindByID(ctx context.Context, id models.ID) (*saga.Record, error) {
	query := selectColumns + ` FROM saga_records WHERE id = $1`

	var pgRecord postgresSagaRecord
	err := s.db.GetContext(ctx, &pgRecord, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, saga.ErrRecordNotFound
		}
		return nil, errors.Wrap(err, "failed to find saga record")
	}

	return s.toDomain(&pgRecord)
}

// FindIncomplete returns records that are neither terminal nor
// dead-lettered, oldest first, for recovery sweeps.
func (s *PostgresSagaStore) FindIncomplete(ctx context.Context) ([]*saga.Record, error) {
	query := selectColumns + `
		FROM saga_records
		WHERE state NOT IN ($1, $2, $3) AND dead_lettered = FALSE
		ORDER BY updated_at ASC`

	var pgRecords []postgresSagaRecord
	err := s.db.SelectContext(ctx, &pgRecords, query,
		saga.StateCompleted.String(), saga.StateFailed.String(), saga.StateCompensationFailed.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to find incomplete sagas")
	}

	return s.toDomainList(pgRecords)
}

// FindByCorrelationID finds saga records by their external reference
func (s *PostgresSagaStore) FindByCorrelationID(ctx context.Context, correlationID models.ID) ([]*saga.Record, error) {
	query := selectColumns + `
		FROM saga_records
		WHERE correlation_id = $1
		ORDER BY created_at DESC`

	var pgRecords []postgresSagaRecord
	err := s.db.SelectContext(ctx, &pgRecords, query, correlationID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to find sagas by correlation id")
	}

	return s.toDomainList(pgRecords)
}

// MarkDeadLettered flags a record so recovery sweeps stop retrying it
func (s *PostgresSagaStore) MarkDeadLettered(ctx context.Context, id models.ID) error {
	query := `
		UPDATE saga_records
		SET dead_lettered = TRUE, updated_at = $2
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id.String(), time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to dead-letter saga record")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check dead-letter update")
	}
	if affected == 0 {
		return saga.ErrRecordNotFound
	}
	return nil
}

const selectColumns = `
	SELECT id, type, correlation_id, state, completed_steps, context,
	       error, compensation_error, attempts, dead_lettered, version,
	       created_at, updated_at, completed_at`

// toPostgres converts a domain record to its database model
func (s *PostgresSagaStore) toPostgres(record *saga.Record) (*postgresSagaRecord, error) {
	completedSteps, err := json.Marshal(record.CompletedSteps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal completed steps")
	}

	contextData, err := saga.MarshalContext(record.Context)
	if err != nil {
		return nil, err
	}

	return &postgresSagaRecord{
		ID:                record.ID.String(),
		Type:              record.Type,
		CorrelationID:     record.CorrelationID.String(),
		State:             record.State.String(),
		CompletedSteps:    completedSteps,
		Context:           contextData,
		Error:             record.Error,
		CompensationError: record.CompensationError,
		Attempts:          record.Attempts,
		DeadLettered:      record.DeadLettered,
		Version:           record.Version.Value,
		CreatedAt:         record.Timestamps.CreatedAt,
		UpdatedAt:         record.Timestamps.UpdatedAt,
		CompletedAt:       record.CompletedAt,
	}, nil
}

// toDomain converts a database model to a domain record
func (s *PostgresSagaStore) toDomain(pgRecord *postgresSagaRecord) (*saga.Record, error) {
	var completedSteps []string
	if err := json.Unmarshal(pgRecord.CompletedSteps, &completedSteps); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal completed steps")
	}
	if completedSteps == nil {
		completedSteps = []string{}
	}

	contextRecord, err := saga.UnmarshalContext(pgRecord.Context)
	if err != nil {
		return nil, err
	}

	state := saga.State(pgRecord.State)
	if !state.IsValid() {
		return nil, errors.Errorf("invalid saga state in storage: %s", pgRecord.State)
	}

	return &saga.Record{
		ID:                models.ID(pgRecord.ID),
		Type:              pgRecord.Type,
		CorrelationID:     models.ID(pgRecord.CorrelationID),
		State:             state,
		CompletedSteps:    completedSteps,
		Context:           contextRecord,
		Error:             pgRecord.Error,
		CompensationError: pgRecord.CompensationError,
		Attempts:          pgRecord.Attempts,
		DeadLettered:      pgRecord.DeadLettered,
		Version:           models.Version{Value: pgRecord.Version},
		Timestamps: models.Timestamps{
			CreatedAt: pgRecord.CreatedAt,
			UpdatedAt: pgRecord.UpdatedAt,
		},
		CompletedAt: pgRecord.CompletedAt,
	}, nil
}

func (s *PostgresSagaStore) toDomainList(pgRecords []postgresSagaRecord) ([]*saga.Record, error) {
	records := make([]*saga.Record, len(pgRecords))
	for i := range pgRecords {
		record, err := s.toDomain(&pgRecords[i])
		if err != nil {
			return nil, err
		}
		records[i] = record
	}
	return records, nil
}
