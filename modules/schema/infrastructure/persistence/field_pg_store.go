package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

const pgDDL = `
CREATE TABLE IF NOT EXISTS system_collections (
  collection text PRIMARY KEY,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS system_fields (
  id         uuid PRIMARY KEY,
  collection text NOT NULL REFERENCES system_collections (collection) ON DELETE CASCADE,
  field      text NOT NULL,
  type       text NOT NULL,
  attributes jsonb NOT NULL DEFAULT '{}'::jsonb,
  updated_at timestamptz NOT NULL,
  UNIQUE (collection, field)
);
`

const pgFieldColumns = `id::text, collection, field, type, attributes::text, updated_at`

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type FieldPGStore struct {
	pool pgBeginner
}

func NewFieldPGStore(pool pgBeginner) *FieldPGStore {
	return &FieldPGStore{pool: pool}
}

var _ ports.FieldStore = (*FieldPGStore)(nil)

func (s *FieldPGStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, pgDDL); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *FieldPGStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	ok, err := pgCollectionExists(ctx, tx, collection)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *FieldPGStore) EnsureCollection(ctx context.Context, collection string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO system_collections (collection) VALUES ($1)
ON CONFLICT (collection) DO NOTHING`, collection); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *FieldPGStore) GetField(ctx context.Context, collection string, field string) (types.Field, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Field{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	f, err := pgView{tx: tx}.GetField(ctx, collection, field)
	if err != nil {
		return types.Field{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Field{}, err
	}
	return f, nil
}

func (s *FieldPGStore) ListFields(ctx context.Context, collection string) ([]types.Field, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	out, err := pgView{tx: tx}.ListFields(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FieldPGStore) InsertField(ctx context.Context, f types.Field) (types.Field, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Field{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := pgRequireCollection(ctx, tx, f.Collection); err != nil {
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

	out, err := pgScanField(tx.QueryRow(ctx, `
INSERT INTO system_fields (id, collection, field, type, attributes, updated_at)
VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6)
ON CONFLICT (collection, field) DO NOTHING
RETURNING `+pgFieldColumns, f.ID, f.Collection, f.Field, f.Type, string(attrs), f.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Field{}, ports.ErrFieldExists
	}
	if err != nil {
		return types.Field{}, mapPGError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Field{}, err
	}
	return out, nil
}

// UpdateFields locks the collection row, so concurrent updates of one
// collection run one after another.
func (s *FieldPGStore) UpdateFields(ctx context.Context, collection string, mutate ports.FieldMutation) ([]types.Field, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var locked string
	if err := tx.QueryRow(ctx, `SELECT collection FROM system_collections WHERE collection = $1 FOR UPDATE`, collection).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrCollectionNotFound
		}
		return nil, err
	}
	updates, err := mutate(ctx, pgView{tx: tx})
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
		f, err := pgScanField(tx.QueryRow(ctx, `
UPDATE system_fields SET type = $3, attributes = $4::jsonb, updated_at = $5
WHERE collection = $1 AND field = $2
RETURNING `+pgFieldColumns, collection, u.Field, u.Type, string(attrs), now))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.NewFieldNotFound(collection, u.Field)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FieldPGStore) DeleteField(ctx context.Context, collection string, field string) (types.Field, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Field{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := pgRequireCollection(ctx, tx, collection); err != nil {
		return types.Field{}, err
	}
	f, err := pgScanField(tx.QueryRow(ctx, `DELETE FROM system_fields WHERE collection = $1 AND field = $2 RETURNING `+pgFieldColumns, collection, field))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Field{}, ports.NewFieldNotFound(collection, field)
	}
	if err != nil {
		return types.Field{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Field{}, err
	}
	return f, nil
}

// pgView reads inside an open transaction.
type pgView struct {
	tx pgx.Tx
}

func (v pgView) GetField(ctx context.Context, collection string, field string) (types.Field, error) {
	if err := pgRequireCollection(ctx, v.tx, collection); err != nil {
		return types.Field{}, err
	}
	f, err := pgScanField(v.tx.QueryRow(ctx, `SELECT `+pgFieldColumns+` FROM system_fields WHERE collection = $1 AND field = $2`, collection, field))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Field{}, ports.NewFieldNotFound(collection, field)
	}
	return f, err
}

func (v pgView) ListFields(ctx context.Context, collection string) ([]types.Field, error) {
	if err := pgRequireCollection(ctx, v.tx, collection); err != nil {
		return nil, err
	}

	rows, err := v.tx.Query(ctx, `SELECT `+pgFieldColumns+` FROM system_fields WHERE collection = $1 ORDER BY field ASC`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Field, 0)
	for rows.Next() {
		f, err := pgScanField(rows)
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

func pgCollectionExists(ctx context.Context, tx pgx.Tx, collection string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM system_collections WHERE collection = $1)`, collection).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func pgRequireCollection(ctx context.Context, tx pgx.Tx, collection string) error {
	ok, err := pgCollectionExists(ctx, tx, collection)
	if err != nil {
		return err
	}
	if !ok {
		return ports.ErrCollectionNotFound
	}
	return nil
}

func pgScanField(row pgx.Row) (types.Field, error) {
	var (
		f     types.Field
		attrs string
	)
	if err := row.Scan(&f.ID, &f.Collection, &f.Field, &f.Type, &attrs, &f.UpdatedAt); err != nil {
		return types.Field{}, err
	}
	decoded, err := decodeAttributes([]byte(attrs))
	if err != nil {
		return types.Field{}, err
	}
	f.Attributes = decoded
	f.UpdatedAt = f.UpdatedAt.UTC()
	return f, nil
}

func mapPGError(err error) error {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok {
		switch pgErr.Code {
		case "23505":
			return ports.ErrFieldExists
		case "23503":
			return ports.ErrCollectionNotFound
		}
	}
	return err
}
