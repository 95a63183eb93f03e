package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding TEXT,
	metadata TEXT,
	user_id TEXT NOT NULL DEFAULT '',
	ttl_seconds INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	expire_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_expire ON records(expire_at)
`

// SQLite is a Repository backed by a local SQLite file. Times are stored as unix nanoseconds.
type SQLite struct {
	db *sql.DB
}

var _ Repository = (*SQLite)(nil)

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", path))
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to ping sqlite", goerr.V("path", path))
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, goerr.Wrap(err, "failed to set pragma", goerr.V("pragma", pragma))
		}
	}

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, goerr.Wrap(err, "failed to initialize schema")
		}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) PutRecord(ctx context.Context, rec *model.Record) error {
	if rec == nil || rec.ID == "" {
		return goerr.New("record ID is required")
	}

	var embedding, metadata any
	if len(rec.Embedding) > 0 {
		raw, err := json.Marshal(rec.Embedding)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal embedding", goerr.V("id", rec.ID))
		}
		embedding = string(raw)
	}
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", rec.ID))
		}
		metadata = string(raw)
	}

	var expireAt any
	if at, ok := rec.ExpiresAt(); ok {
		expireAt = at.UnixNano()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, session_id, kind, content, embedding, metadata, user_id, ttl_seconds, created_at, updated_at, expire_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			kind = excluded.kind,
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			user_id = excluded.user_id,
			ttl_seconds = excluded.ttl_seconds,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expire_at = excluded.expire_at`,
		string(rec.ID), rec.SessionID, string(rec.Kind), rec.Content, embedding, metadata, rec.UserID,
		rec.TTLSeconds(), rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(), expireAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to upsert record", goerr.V("id", rec.ID))
	}
	return nil
}

const sqliteColumns = "id, session_id, kind, content, embedding, metadata, user_id, ttl_seconds, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		rec                  model.Record
		id, kind             string
		embedding, metadata  sql.NullString
		ttlSeconds           int64
		createdAt, updatedAt int64
	)

	if err := row.Scan(&id, &rec.SessionID, &kind, &rec.Content, &embedding, &metadata, &rec.UserID, &ttlSeconds, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec.ID = model.RecordID(id)
	rec.Kind = model.MemoryKind(kind)
	rec.TTL = time.Duration(ttlSeconds) * time.Second
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &rec.Embedding); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal embedding", goerr.V("id", id))
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal metadata", goerr.V("id", id))
		}
	}

	return &rec, nil
}

func (s *SQLite) GetRecord(ctx context.Context, id model.RecordID) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteColumns+" FROM records WHERE id = ?", string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get record", goerr.V("id", id))
	}
	return rec, nil
}

func (s *SQLite) ListRecords(ctx context.Context, q Query) ([]*model.Record, error) {
	var (
		where []string
		args  []any
	)
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if !q.ActiveAt.IsZero() {
		where = append(where, "(expire_at IS NULL OR expire_at >= ?)")
		args = append(args, q.ActiveAt.UnixNano())
	}

	stmt := "SELECT " + sqliteColumns + " FROM records"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_at DESC, rowid DESC"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records", goerr.V("session_id", q.SessionID))
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate records")
	}

	return records, nil
}

func (s *SQLite) DeleteRecord(ctx context.Context, id model.RecordID) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE id = ?", string(id))
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete record", goerr.V("id", id))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "failed to get affected rows", goerr.V("id", id))
	}
	return n > 0, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return goerr.Wrap(err, "failed to ping sqlite")
	}
	return nil
}
