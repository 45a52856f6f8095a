package docstore

import (
	"context"

	"github.com/pkg/errors"
)

// schemaDDL creates everything the backend touches. Statements are
// idempotent so EnsureSchema can run on every startup.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS paros_users (
		id           text PRIMARY KEY,
		phone        text NOT NULL UNIQUE,
		display_name text NOT NULL DEFAULT '',
		created_at   timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS paros_challenges (
		phone      text PRIMARY KEY,
		code_hash  text NOT NULL,
		attempts   int NOT NULL DEFAULT 0,
		expires_at timestamptz NOT NULL,
		created_at timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS paros_refresh_tokens (
		token      text PRIMARY KEY,
		user_id    text NOT NULL REFERENCES paros_users (id) ON DELETE CASCADE,
		expires_at timestamptz NOT NULL,
		created_at timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS paros_documents (
		collection text NOT NULL,
		id         text NOT NULL,
		data       jsonb NOT NULL,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS paros_documents_data_idx
		ON paros_documents USING gin (data)`,
	`CREATE TABLE IF NOT EXISTS paros_files (
		path         text PRIMARY KEY,
		content      bytea NOT NULL,
		content_type text NOT NULL DEFAULT '',
		size         bigint NOT NULL,
		created_at   timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS paros_messages (
		id         text PRIMARY KEY,
		channel    text NOT NULL,
		payload    jsonb NOT NULL,
		sender_id  text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS paros_messages_channel_idx
		ON paros_messages (channel, created_at)`,
}

// EnsureSchema creates the paros_* tables if they do not exist yet. It is
// safe to call on every startup; an empty database becomes a working backend
// and an initialized one is left alone.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "Backend.EnsureSchema begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ddl := range schemaDDL {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return errors.Wrap(err, "Backend.EnsureSchema")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "Backend.EnsureSchema commit")
	}
	return nil
}
