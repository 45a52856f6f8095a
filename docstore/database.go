package docstore

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/internal/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// guardFunc runs before an operation touches the database. The backend wires
// in Auth.ensureFreshSession so expired sessions rotate or fail exactly like
// they do on the api backend.
type guardFunc func(ctx context.Context) error

// Database stores every collection in the paros_documents JSONB table.
type Database struct {
	pool  *pgxpool.Pool
	guard guardFunc
}

var _ backend.Database = (*Database)(nil)

func newDatabase(pool *pgxpool.Pool, guard guardFunc) *Database {
	return &Database{pool: pool, guard: guard}
}

const selectDocumentSQL = `
SELECT data FROM paros_documents WHERE collection = $1 AND id = $2`

const insertDocumentSQL = `
INSERT INTO paros_documents (collection, id, data, created_at, updated_at)
VALUES ($1, $2, $3, now(), now())`

const updateDocumentSQL = `
UPDATE paros_documents SET data = data || $3::jsonb, updated_at = now()
WHERE collection = $1 AND id = $2
RETURNING data`

const deleteDocumentSQL = `
DELETE FROM paros_documents WHERE collection = $1 AND id = $2`

// Query evaluates filters inside PostgreSQL via jsonb operators.
func (d *Database) Query(ctx context.Context, collection string, filters []backend.QueryFilter, opts backend.QueryOptions) ([]backend.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.query", attribute.String("collection", collection))
	defer span.End()

	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}
	sqlText, args, err := buildDocumentQuery(collection, filters, opts)
	if err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}
	if err := d.guard(ctx); err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}

	rows, err := d.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}
	defer rows.Close()

	docs := make([]backend.Document, 0)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, errors.Wrap(err, "Database.Query scan")
		}
		data := make(map[string]any)
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errors.Wrap(err, "Database.Query decode")
		}
		docs = append(docs, backend.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "Database.Query rows")
	}
	return docs, nil
}

// GetByID fetches one document; a missing row is (zero, false, nil).
func (d *Database) GetByID(ctx context.Context, collection, id string) (backend.Document, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.get", attribute.String("collection", collection))
	defer span.End()

	if err := d.guard(ctx); err != nil {
		return backend.Document{}, false, errors.Wrap(err, "Database.GetByID")
	}

	var raw []byte
	err := d.pool.QueryRow(ctx, selectDocumentSQL, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.Document{}, false, nil
	}
	if err != nil {
		return backend.Document{}, false, errors.Wrap(err, "Database.GetByID")
	}

	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return backend.Document{}, false, errors.Wrap(err, "Database.GetByID decode")
	}
	return backend.Document{ID: id, Data: data}, true, nil
}

// Create assigns a fresh id and stores data as the document body.
func (d *Database) Create(ctx context.Context, collection string, data map[string]any) (backend.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.create", attribute.String("collection", collection))
	defer span.End()

	if len(data) == 0 {
		return backend.Document{}, errors.Wrap(backend.ErrInvalidQuery, "Database.Create: data must not be empty")
	}
	if _, found := data["id"]; found {
		return backend.Document{}, errors.Wrap(backend.ErrInvalidQuery, `Database.Create: data must not contain "id"`)
	}
	if err := d.guard(ctx); err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Create")
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Create marshal")
	}
	id := uuid.NewString()
	if _, err := d.pool.Exec(ctx, insertDocumentSQL, collection, id, encoded); err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Create")
	}
	return backend.Document{ID: id, Data: data}, nil
}

// Update merges patch into the stored document at the top level, matching
// the api backend's PATCH semantics. An empty patch is refused before it
// reaches the database: marshalled as jsonb null, it would turn the `||`
// merge into array concatenation and wreck the stored document.
func (d *Database) Update(ctx context.Context, collection, id string, patch map[string]any) (backend.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.update", attribute.String("collection", collection))
	defer span.End()

	if len(patch) == 0 {
		return backend.Document{}, errors.Wrap(backend.ErrInvalidQuery, "Database.Update: patch must not be empty")
	}
	if err := d.guard(ctx); err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Update")
	}

	encoded, err := json.Marshal(patch)
	if err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Update marshal")
	}

	var raw []byte
	err = d.pool.QueryRow(ctx, updateDocumentSQL, collection, id, encoded).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.Document{}, &backend.TransportError{
			Status:  http.StatusNotFound,
			Code:    "not_found",
			Message: "document " + collection + "/" + id + " does not exist",
		}
	}
	if err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Update")
	}

	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Update decode")
	}
	return backend.Document{ID: id, Data: data}, nil
}

// Delete removes a document; deleting an absent one is a no-op.
func (d *Database) Delete(ctx context.Context, collection, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "database.delete", attribute.String("collection", collection))
	defer span.End()

	if err := d.guard(ctx); err != nil {
		return errors.Wrap(err, "Database.Delete")
	}
	if _, err := d.pool.Exec(ctx, deleteDocumentSQL, collection, id); err != nil {
		return errors.Wrap(err, "Database.Delete")
	}
	return nil
}

// BatchWrite runs every operation inside a single transaction. That is a
// stronger guarantee than the provider contract asks for; callers that need
// portability must not rely on it.
func (d *Database) BatchWrite(ctx context.Context, ops []backend.BatchOperation) error {
	ctx, span := telemetry.StartSpan(ctx, "database.batch_write", attribute.Int("operations", len(ops)))
	defer span.End()

	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return errors.Wrap(err, "Database.BatchWrite")
		}
	}
	if err := d.guard(ctx); err != nil {
		return errors.Wrap(err, "Database.BatchWrite")
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "Database.BatchWrite begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, op := range ops {
		if err := applyBatchOperation(ctx, tx, op); err != nil {
			return errors.Wrap(err, "Database.BatchWrite")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "Database.BatchWrite commit")
	}
	return nil
}

func applyBatchOperation(ctx context.Context, tx pgx.Tx, op backend.BatchOperation) error {
	switch op.Kind {
	case backend.BatchCreate:
		if _, found := op.Data["id"]; found {
			return errors.Wrap(backend.ErrInvalidQuery, `batch create data must not contain "id"`)
		}
		encoded, err := json.Marshal(op.Data)
		if err != nil {
			return errors.Wrap(err, "applyBatchOperation marshal")
		}
		_, err = tx.Exec(ctx, insertDocumentSQL, op.Collection, uuid.NewString(), encoded)
		return errors.Wrap(err, "applyBatchOperation create")

	case backend.BatchUpdate:
		encoded, err := json.Marshal(op.Data)
		if err != nil {
			return errors.Wrap(err, "applyBatchOperation marshal")
		}
		tag, err := tx.Exec(ctx, updateDocumentBatchSQL, op.Collection, op.ID, encoded)
		if err != nil {
			return errors.Wrap(err, "applyBatchOperation update")
		}
		if tag.RowsAffected() == 0 {
			return &backend.TransportError{
				Status:  http.StatusNotFound,
				Code:    "not_found",
				Message: "document " + op.Collection + "/" + op.ID + " does not exist",
			}
		}
		return nil

	case backend.BatchDelete:
		_, err := tx.Exec(ctx, deleteDocumentSQL, op.Collection, op.ID)
		return errors.Wrap(err, "applyBatchOperation delete")
	}
	return errors.Wrapf(backend.ErrInvalidQuery, "unknown batch kind %q", op.Kind)
}

const updateDocumentBatchSQL = `
UPDATE paros_documents SET data = data || $3::jsonb, updated_at = now()
WHERE collection = $1 AND id = $2`
