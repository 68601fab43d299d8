package ports

import (
	"context"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

type EventPublisher interface {
	Publish(ctx context.Context, event types.FieldEvent) error
}

type Authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}
