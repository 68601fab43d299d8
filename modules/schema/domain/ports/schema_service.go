package ports

import (
	"context"
	"net/url"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

// SchemaService owns field metadata. Query options are the caller's query
// string, forwarded verbatim.
type SchemaService interface {
	AddField(ctx context.Context, collection string, field string, attrs types.FieldPayload, opts url.Values) (types.Field, error)
	FindField(ctx context.Context, collection string, field string, opts url.Values) (types.Field, error)
	FindFields(ctx context.Context, collection string, fields []string, opts url.Values) (map[string]types.Field, error)
	FindAllFields(ctx context.Context, collection string, opts url.Values) ([]types.Field, error)
	ChangeField(ctx context.Context, collection string, field string, attrs types.FieldPayload, opts url.Values) (types.Field, error)
	DeleteField(ctx context.Context, collection string, field string, opts url.Values) (types.Field, error)
	BatchUpdateField(ctx context.Context, collection string, payload types.BatchPayload, opts url.Values) ([]types.Field, error)
	BatchUpdateFieldWithIDs(ctx context.Context, collection string, ids []string, payload types.BatchPayload, opts url.Values) ([]types.Field, error)
	RejectIfSystemCollection(ctx context.Context, collection string) error
}
