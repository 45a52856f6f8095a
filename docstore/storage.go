package docstore

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/internal/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Storage keeps file content in the paros_files table. Suitable for the
// profile photos and rental agreements this backend serves; anything that
// should not live in a database row belongs on the api backend's store.
type Storage struct {
	pool  *pgxpool.Pool
	guard guardFunc
}

var _ backend.Storage = (*Storage)(nil)

func newStorage(pool *pgxpool.Pool, guard guardFunc) *Storage {
	return &Storage{pool: pool, guard: guard}
}

const upsertFileSQL = `
INSERT INTO paros_files (path, content, content_type, size, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (path) DO UPDATE
SET content = EXCLUDED.content, content_type = EXCLUDED.content_type, size = EXCLUDED.size`

const selectFileSQL = `
SELECT content, content_type FROM paros_files WHERE path = $1`

const deleteFileSQL = `DELETE FROM paros_files WHERE path = $1`

// Upload reads content fully and upserts it under path. Uploading to an
// existing path replaces the file.
func (s *Storage) Upload(ctx context.Context, path string, content io.Reader, contentType string) (backend.FileRef, error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.upload", attribute.String("file.path", path))
	defer span.End()

	if err := s.guard(ctx); err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload")
	}

	raw, err := io.ReadAll(content)
	if err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload read content")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.pool.Exec(ctx, upsertFileSQL, path, raw, contentType, int64(len(raw))); err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload")
	}
	return backend.FileRef{Path: path, Size: int64(len(raw)), ContentType: contentType}, nil
}

// Download returns the stored content. The reader is backed by memory; there
// is no connection to keep open once this returns.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.download", attribute.String("file.path", path))
	defer span.End()

	if err := s.guard(ctx); err != nil {
		return nil, errors.Wrap(err, "Storage.Download")
	}

	var content []byte
	var contentType string
	err := s.pool.QueryRow(ctx, selectFileSQL, path).Scan(&content, &contentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &backend.TransportError{
			Status:  http.StatusNotFound,
			Code:    "not_found",
			Message: "file " + path + " does not exist",
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "Storage.Download")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Delete removes the stored file; deleting an absent path is a no-op.
func (s *Storage) Delete(ctx context.Context, path string) error {
	ctx, span := telemetry.StartSpan(ctx, "storage.delete", attribute.String("file.path", path))
	defer span.End()

	if err := s.guard(ctx); err != nil {
		return errors.Wrap(err, "Storage.Delete")
	}
	if _, err := s.pool.Exec(ctx, deleteFileSQL, path); err != nil {
		return errors.Wrap(err, "Storage.Delete")
	}
	return nil
}
