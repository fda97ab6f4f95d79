package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the speech_settings table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment. Guild-scope
// overrides use an empty user_id.
const Schema = `
CREATE TABLE IF NOT EXISTS speech_settings (
    guild_id   TEXT NOT NULL,
    user_id    TEXT NOT NULL DEFAULT '',
    overrides  JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (guild_id, user_id)
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Overrides are
// serialised as a single JSONB column, so new preference fields need no
// schema change.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("settings: migrate: %w", err)
	}
	return nil
}

// GetGuild implements [Store].
func (s *PostgresStore) GetGuild(ctx context.Context, guildID string) (*Override, error) {
	return s.get(ctx, guildID, "")
}

// SetGuild implements [Store].
func (s *PostgresStore) SetGuild(ctx context.Context, guildID string, o *Override) error {
	return s.set(ctx, guildID, "", o)
}

// GetUser implements [Store].
func (s *PostgresStore) GetUser(ctx context.Context, guildID, userID string) (*Override, error) {
	return s.get(ctx, guildID, userID)
}

// SetUser implements [Store].
func (s *PostgresStore) SetUser(ctx context.Context, guildID, userID string, o *Override) error {
	return s.set(ctx, guildID, userID, o)
}

// DeleteUser implements [Store]. Deleting an absent override is not an error.
func (s *PostgresStore) DeleteUser(ctx context.Context, guildID, userID string) error {
	const query = `DELETE FROM speech_settings WHERE guild_id = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, guildID, userID); err != nil {
		return fmt.Errorf("settings: delete %s/%s: %w", guildID, userID, err)
	}
	return nil
}

func (s *PostgresStore) get(ctx context.Context, guildID, userID string) (*Override, error) {
	const query = `
		SELECT overrides
		FROM speech_settings
		WHERE guild_id = $1 AND user_id = $2`

	var raw []byte
	err := s.db.QueryRow(ctx, query, guildID, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("settings: get %s/%s: %w", guildID, userID, err)
	}

	var o Override
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("settings: unmarshal overrides %s/%s: %w", guildID, userID, err)
	}
	return &o, nil
}

func (s *PostgresStore) set(ctx context.Context, guildID, userID string, o *Override) error {
	if o == nil {
		o = &Override{}
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("settings: marshal overrides: %w", err)
	}

	const query = `
		INSERT INTO speech_settings (guild_id, user_id, overrides)
		VALUES ($1, $2, $3)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			overrides = EXCLUDED.overrides,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, guildID, userID, raw); err != nil {
		return fmt.Errorf("settings: set %s/%s: %w", guildID, userID, err)
	}
	return nil
}
