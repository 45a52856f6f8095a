package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/internal/telemetry"
	"github.com/parosapp/paros-go/transport"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Database maps the provider contract onto the collection endpoints. The
// server evaluates filters, ordering and pagination; this side only validates
// shape and serializes.
type Database struct {
	client *transport.Client
}

var _ backend.Database = (*Database)(nil)

func newDatabase(client *transport.Client) *Database {
	return &Database{client: client}
}

// Query fetches the documents of a collection matching every filter.
func (d *Database) Query(ctx context.Context, collection string, filters []backend.QueryFilter, opts backend.QueryOptions) ([]backend.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.query", attribute.String("collection", collection))
	defer span.End()

	if err := validateFilters(filters); err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}

	path, err := queryPath(collection, filters, opts)
	if err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}

	var out documentsResponse
	if err := d.client.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, errors.Wrap(err, "Database.Query")
	}

	docs := make([]backend.Document, 0, len(out.Documents))
	for _, raw := range out.Documents {
		docs = append(docs, documentFromWire(raw))
	}
	return docs, nil
}

// GetByID fetches one document. A 404 is not an error, it is an absent
// document.
func (d *Database) GetByID(ctx context.Context, collection, id string) (backend.Document, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.get", attribute.String("collection", collection))
	defer span.End()

	var out map[string]any
	err := d.client.DoJSON(ctx, http.MethodGet, resourcePath(collection, id), nil, &out)
	if err != nil {
		var terr *backend.TransportError
		if errors.As(err, &terr) && terr.Status == http.StatusNotFound {
			return backend.Document{}, false, nil
		}
		return backend.Document{}, false, errors.Wrap(err, "Database.GetByID")
	}
	return documentFromWire(out), true, nil
}

// Create stores a new document and returns the server's representation,
// including the assigned id.
func (d *Database) Create(ctx context.Context, collection string, data map[string]any) (backend.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.create", attribute.String("collection", collection))
	defer span.End()

	if len(data) == 0 {
		return backend.Document{}, errors.Wrap(backend.ErrInvalidQuery, "Database.Create: data must not be empty")
	}
	if _, found := data["id"]; found {
		return backend.Document{}, errors.Wrap(backend.ErrInvalidQuery, `Database.Create: data must not contain "id"`)
	}

	var out map[string]any
	if err := d.client.DoJSON(ctx, http.MethodPost, collectionPath(collection), data, &out); err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Create")
	}
	return documentFromWire(out), nil
}

// Update applies a partial patch and returns the updated document.
func (d *Database) Update(ctx context.Context, collection, id string, patch map[string]any) (backend.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "database.update", attribute.String("collection", collection))
	defer span.End()

	if len(patch) == 0 {
		return backend.Document{}, errors.Wrap(backend.ErrInvalidQuery, "Database.Update: patch must not be empty")
	}

	var out map[string]any
	if err := d.client.DoJSON(ctx, http.MethodPatch, resourcePath(collection, id), patch, &out); err != nil {
		return backend.Document{}, errors.Wrap(err, "Database.Update")
	}
	return documentFromWire(out), nil
}

// Delete removes a document. Deleting an absent document is a no-op.
func (d *Database) Delete(ctx context.Context, collection, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "database.delete", attribute.String("collection", collection))
	defer span.End()

	err := d.client.DoJSON(ctx, http.MethodDelete, resourcePath(collection, id), nil, nil)
	if err != nil {
		var terr *backend.TransportError
		if errors.As(err, &terr) && terr.Status == http.StatusNotFound {
			return nil
		}
		return errors.Wrap(err, "Database.Delete")
	}
	return nil
}

// BatchWrite forwards the operations to the batch endpoint. The server
// applies them in order; atomicity is not guaranteed by this backend.
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
	if err := d.client.DoJSON(ctx, http.MethodPost, "/batch", batchRequest{Operations: ops}, nil); err != nil {
		return errors.Wrap(err, "Database.BatchWrite")
	}
	return nil
}

// validateFilters rejects malformed filters up front. Every operator of the
// query model is supported server-side; only unknown ones are refused.
func validateFilters(filters []backend.QueryFilter) error {
	for _, f := range filters {
		if f.Field == "" {
			return errors.Wrap(backend.ErrInvalidQuery, "filter requires a field")
		}
		if !f.Op.Known() {
			return errors.Wrapf(backend.ErrInvalidQuery, "unknown operator %q", f.Op)
		}
	}
	return nil
}

func queryPath(collection string, filters []backend.QueryFilter, opts backend.QueryOptions) (string, error) {
	params := url.Values{}
	if len(filters) > 0 {
		encoded, err := json.Marshal(filters)
		if err != nil {
			return "", errors.Wrap(err, "marshal filters")
		}
		params.Set("filters", string(encoded))
	}
	if opts.OrderBy != "" {
		params.Set("orderBy", opts.OrderBy)
		if opts.Direction != "" {
			params.Set("direction", string(opts.Direction))
		}
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := collectionPath(collection)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return path, nil
}

func collectionPath(collection string) string {
	return "/" + url.PathEscape(collection)
}

func resourcePath(collection, id string) string {
	return collectionPath(collection) + "/" + url.PathEscape(id)
}

// documentFromWire splits the server's flat JSON object into id and data.
func documentFromWire(raw map[string]any) backend.Document {
	doc := backend.Document{Data: make(map[string]any, len(raw))}
	for key, value := range raw {
		if key == "id" {
			if id, ok := value.(string); ok {
				doc.ID = id
				continue
			}
		}
		doc.Data[key] = value
	}
	return doc
}

type documentsResponse struct {
	Documents []map[string]any `json:"documents"`
}

type batchRequest struct {
	Operations []backend.BatchOperation `json:"operations"`
}
