package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

var (
	ErrFieldNotFound      = errors.New("field_not_found")
	ErrFieldExists        = errors.New("field_exists")
	ErrCollectionNotFound = errors.New("collection_not_found")
)

// FieldNotFoundError names the missing field. It matches ErrFieldNotFound.
type FieldNotFoundError struct {
	Collection string
	Field      string
}

func NewFieldNotFound(collection string, field string) error {
	return &FieldNotFoundError{Collection: collection, Field: field}
}

func (e *FieldNotFoundError) Error() string {
	return ErrFieldNotFound.Error() + ": " + e.Collection + "." + e.Field
}

func (e *FieldNotFoundError) Is(target error) bool { return target == ErrFieldNotFound }

// FieldReader is the view a FieldMutation reads through.
type FieldReader interface {
	GetField(ctx context.Context, collection string, field string) (types.Field, error)
	ListFields(ctx context.Context, collection string) ([]types.Field, error)
}

// FieldMutation derives the definitions to write from the current state of
// one collection. It runs under the store's lock or transaction for that
// collection and must not call back into the store.
type FieldMutation func(ctx context.Context, r FieldReader) ([]types.Field, error)

// FieldStore persists field metadata. UpdateFields reads and writes under one
// lock or transaction: either every returned field is written or none is, and
// concurrent updates of the same collection do not interleave.
type FieldStore interface {
	FieldReader
	CollectionExists(ctx context.Context, collection string) (bool, error)
	EnsureCollection(ctx context.Context, collection string) error
	InsertField(ctx context.Context, f types.Field) (types.Field, error)
	UpdateFields(ctx context.Context, collection string, mutate FieldMutation) ([]types.Field, error)
	DeleteField(ctx context.Context, collection string, field string) (types.Field, error)
}
