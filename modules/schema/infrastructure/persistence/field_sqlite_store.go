package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS system_collections (
  collection TEXT PRIMARY KEY,
  created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS system_fields (
  id         TEXT PRIMARY KEY,
  collection TEXT NOT NULL,
  field      TEXT NOT NULL,
  type       TEXT NOT NULL,
  attributes TEXT NOT NULL DEFAULT '{}',
  updated_at TEXT NOT NULL,
  UNIQUE (collection, field)
);
`

type FieldSQLiteStore struct {
	db *sql.DB
}

// OpenFieldSQLiteStore opens (and migrates) the metadata database at path.
// The pool is limited to one connection so ":memory:" databases are shared.
// Transactions begin IMMEDIATE so a read-modify-write holds the write lock
// from its first read.
func OpenFieldSQLiteStore(ctx context.Context, path string) (*FieldSQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteDDL); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &FieldSQLiteStore{db: db}, nil
}

var _ ports.FieldStore = (*FieldSQLiteStore)(nil)

func (s *FieldSQLiteStore) Close() error { return s.db.Close() }

func (s *FieldSQLiteStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return sqliteCollectionExists(ctx, s.db, collection)
}

func (s *FieldSQLiteStore) EnsureCollection(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO system_collections (collection, created_at) VALUES (?, ?) ON CONFLICT (collection) DO NOTHING`,
		collection, nowUTC().Format(time.RFC3339Nano))
	return err
}

func (s *FieldSQLiteStore) GetField(ctx context.Context, collection string, field string) (types.Field, error) {
	return sqliteView{q: s.db}.GetField(ctx, collection, field)
}

func (s *FieldSQLiteStore) ListFields(ctx context.Context, collection string) ([]types.Field, error) {
	return sqliteView{q: s.db}.ListFields(ctx, collection)
}

func (s *FieldSQLiteStore) InsertField(ctx context.Context, f types.Field) (types.Field, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Field{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := sqliteCollectionExists(ctx, tx, f.Collection)
	if err != nil {
		return types.Field{}, err
	}
	if !ok {
		return types.Field{}, ports.ErrCollectionNotFound
	}
	if _, err := sqliteGetField(ctx, tx, f.Collection, f.Field); err == nil {
		return types.Field{}, ports.ErrFieldExists
	} else if !errors.Is(err, ports.ErrFieldNotFound) {
		return types.Field{}, err
	}

	f, err = prepareInsert(f)
	if err != nil {
		return types.Field{}, err
	}
	attrs, err := encodeAttributes(f.Attributes)
	if err != nil {
		return types.Field{}, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO system_fields (id, collection, field, type, attributes, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`, f.ID, f.Collection, f.Field, f.Type, string(attrs), f.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return types.Field{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Field{}, err
	}
	return f, nil
}

func (s *FieldSQLiteStore) UpdateFields(ctx context.Context, collection string, mutate ports.FieldMutation) ([]types.Field, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := sqliteCollectionExists(ctx, tx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ports.ErrCollectionNotFound
	}
	updates, err := mutate(ctx, sqliteView{q: tx})
	if err != nil {
		return nil, err
	}
	if err := checkUpdates(collection, updates); err != nil {
		return nil, err
	}

	now := nowUTC()
	out := make([]types.Field, 0, len(updates))
	for _, u := range updates {
		attrs, err := encodeAttributes(u.Attributes)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE system_fields SET type = ?, attributes = ?, updated_at = ?
WHERE collection = ? AND field = ?`, u.Type, string(attrs), now.Format(time.RFC3339Nano), collection, u.Field)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ports.NewFieldNotFound(collection, u.Field)
		}
		f, err := sqliteGetField(ctx, tx, collection, u.Field)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FieldSQLiteStore) DeleteField(ctx context.Context, collection string, field string) (types.Field, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Field{}, err
	}
	defer func() { _ = tx.Rollback() }()

	f, err := sqliteView{q: tx}.GetField(ctx, collection, field)
	if err != nil {
		return types.Field{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM system_fields WHERE id = ?`, f.ID); err != nil {
		return types.Field{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Field{}, err
	}
	return f, nil
}

// sqliteView reads through either the pool or an open transaction.
type sqliteView struct {
	q sqliteQuerier
}

func (v sqliteView) GetField(ctx context.Context, collection string, field string) (types.Field, error) {
	ok, err := sqliteCollectionExists(ctx, v.q, collection)
	if err != nil {
		return types.Field{}, err
	}
	if !ok {
		return types.Field{}, ports.ErrCollectionNotFound
	}
	return sqliteGetField(ctx, v.q, collection, field)
}

func (v sqliteView) ListFields(ctx context.Context, collection string) ([]types.Field, error) {
	ok, err := sqliteCollectionExists(ctx, v.q, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ports.ErrCollectionNotFound
	}

	rows, err := v.q.QueryContext(ctx, `
SELECT id, collection, field, type, attributes, updated_at
FROM system_fields
WHERE collection = ?
ORDER BY field ASC`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Field, 0)
	for rows.Next() {
		f, err := scanSQLiteField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	types.SortFields(out)
	return out, nil
}

type sqliteQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func sqliteCollectionExists(ctx context.Context, q sqliteQuerier, collection string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM system_collections WHERE collection = ?`, collection).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func sqliteGetField(ctx context.Context, q sqliteQuerier, collection string, field string) (types.Field, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, collection, field, type, attributes, updated_at
FROM system_fields
WHERE collection = ? AND field = ?`, collection, field)
	f, err := scanSQLiteField(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Field{}, ports.NewFieldNotFound(collection, field)
	}
	return f, err
}

func scanSQLiteField(row sqliteScanner) (types.Field, error) {
	var (
		f         types.Field
		attrs     string
		updatedAt string
	)
	if err := row.Scan(&f.ID, &f.Collection, &f.Field, &f.Type, &attrs, &updatedAt); err != nil {
		return types.Field{}, err
	}
	decoded, err := decodeAttributes([]byte(attrs))
	if err != nil {
		return types.Field{}, err
	}
	f.Attributes = decoded
	if f.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return types.Field{}, err
	}
	return f, nil
}
