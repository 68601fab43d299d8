package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
	"github.com/jacksonlee411/schema-fields/pkg/authz"
	"github.com/jacksonlee411/schema-fields/pkg/httperr"
)

const DefaultSystemPrefix = "system_"

const (
	errFieldExists           = "field_exists"
	errInvalidValidationRule = "invalid_validation_rule"
	errDefaultRejected       = "default_rejected"
)

var (
	fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	allowedFieldTypes = []string{
		"string", "text", "integer", "bigint", "float", "decimal", "boolean",
		"date", "datetime", "time", "json", "uuid", "alias",
	}

	newEventID = func() string {
		u, err := uuid.NewV7()
		if err != nil {
			return uuid.NewString()
		}
		return u.String()
	}
	nowMillis = func() int64 { return time.Now().UnixMilli() }
)

type Options struct {
	Store ports.FieldStore
	// Authorizer is optional; without one every call is allowed.
	Authorizer ports.Authorizer
	// Events is optional; without one no events are published.
	Events       ports.EventPublisher
	SystemPrefix string
	Log          logr.Logger
}

type SchemaService struct {
	store        ports.FieldStore
	authz        ports.Authorizer
	events       ports.EventPublisher
	systemPrefix string
	log          logr.Logger
}

var _ ports.SchemaService = (*SchemaService)(nil)

func NewSchemaService(opts Options) (*SchemaService, error) {
	if opts.Store == nil {
		return nil, errors.New("schema service: store is required")
	}
	prefix := strings.ToLower(strings.TrimSpace(opts.SystemPrefix))
	if prefix == "" {
		prefix = DefaultSystemPrefix
	}
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &SchemaService{
		store:        opts.Store,
		authz:        opts.Authorizer,
		events:       opts.Events,
		systemPrefix: prefix,
		log:          log.WithName("schema"),
	}, nil
}

func (s *SchemaService) AddField(ctx context.Context, collection string, field string, attrs types.FieldPayload, opts url.Values) (types.Field, error) {
	s.traceOptions("add_field", collection, opts)
	if err := s.authorize(ctx, collection, authz.ActionAdmin); err != nil {
		return types.Field{}, err
	}
	if err := s.requireCollection(ctx, collection); err != nil {
		return types.Field{}, err
	}
	field = strings.TrimSpace(field)
	if err := validateFieldName(field); err != nil {
		return types.Field{}, err
	}

	def, err := buildDefinition(types.Field{Collection: collection, Field: field}, attrs)
	if err != nil {
		return types.Field{}, err
	}
	out, err := s.store.InsertField(ctx, def)
	if err != nil {
		return types.Field{}, mapStoreError(err, collection, field)
	}
	s.publish(ctx, types.EventFieldCreate, out)
	return out, nil
}

func (s *SchemaService) FindField(ctx context.Context, collection string, field string, opts url.Values) (types.Field, error) {
	s.traceOptions("find_field", collection, opts)
	if err := s.authorize(ctx, collection, authz.ActionRead); err != nil {
		return types.Field{}, err
	}
	out, err := s.store.GetField(ctx, collection, field)
	if err != nil {
		return types.Field{}, mapStoreError(err, collection, field)
	}
	return out, nil
}

// FindFields returns the subset of the named fields that exist, keyed by name.
func (s *SchemaService) FindFields(ctx context.Context, collection string, fields []string, opts url.Values) (map[string]types.Field, error) {
	s.traceOptions("find_fields", collection, opts)
	if err := s.authorize(ctx, collection, authz.ActionRead); err != nil {
		return nil, err
	}
	if err := s.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	out := make(map[string]types.Field, len(fields))
	for _, name := range fields {
		if _, seen := out[name]; seen {
			continue
		}
		f, err := s.store.GetField(ctx, collection, name)
		if errors.Is(err, ports.ErrFieldNotFound) {
			continue
		}
		if err != nil {
			return nil, mapStoreError(err, collection, name)
		}
		out[name] = f
	}
	return out, nil
}

func (s *SchemaService) FindAllFields(ctx context.Context, collection string, opts url.Values) ([]types.Field, error) {
	s.traceOptions("find_all_fields", collection, opts)
	if err := s.authorize(ctx, collection, authz.ActionRead); err != nil {
		return nil, err
	}
	out, err := s.store.ListFields(ctx, collection)
	if err != nil {
		return nil, mapStoreError(err, collection, "")
	}
	return out, nil
}

// ChangeField merges attrs into one field. An empty field name applies attrs
// to every field of the collection, under the same rules as a batch; the
// result then names only the collection.
func (s *SchemaService) ChangeField(ctx context.Context, collection string, field string, attrs types.FieldPayload, opts url.Values) (types.Field, error) {
	s.traceOptions("change_field", collection, opts)
	if field == "" {
		if _, err := s.BatchUpdateField(ctx, collection, types.BatchPayload{Common: attrs}, nil); err != nil {
			return types.Field{}, err
		}
		return types.Field{Collection: collection}, nil
	}
	if err := s.authorize(ctx, collection, authz.ActionAdmin); err != nil {
		return types.Field{}, err
	}
	out, err := s.store.UpdateFields(ctx, collection, func(ctx context.Context, r ports.FieldReader) ([]types.Field, error) {
		cur, err := r.GetField(ctx, collection, field)
		if err != nil {
			return nil, err
		}
		def, err := buildDefinition(cur, attrs)
		if err != nil {
			return nil, err
		}
		return []types.Field{def}, nil
	})
	if err != nil {
		return types.Field{}, mapStoreError(err, collection, field)
	}
	if len(out) != 1 {
		return types.Field{}, fmt.Errorf("schema: update of %s.%s returned %d rows", collection, field, len(out))
	}
	s.publish(ctx, types.EventFieldUpdate, out[0])
	return out[0], nil
}

// DeleteField removes a field and returns the removed definition as
// acknowledgment.
func (s *SchemaService) DeleteField(ctx context.Context, collection string, field string, opts url.Values) (types.Field, error) {
	s.traceOptions("delete_field", collection, opts)
	if err := s.authorize(ctx, collection, authz.ActionAdmin); err != nil {
		return types.Field{}, err
	}
	out, err := s.store.DeleteField(ctx, collection, field)
	if err != nil {
		return types.Field{}, mapStoreError(err, collection, field)
	}
	s.publish(ctx, types.EventFieldDelete, out)
	return out, nil
}

// BatchUpdateField applies a batch whose targets come from the payload: each
// sequence entry names its field, while a single mapping applies to every
// field of the collection.
func (s *SchemaService) BatchUpdateField(ctx context.Context, collection string, payload types.BatchPayload, opts url.Values) ([]types.Field, error) {
	s.traceOptions("batch_update_field", collection, opts)
	if err := s.beginBatch(ctx, collection); err != nil {
		return nil, err
	}

	if payload.IsSequence() {
		for i, entry := range payload.Entries {
			if _, ok := entryTarget(entry); !ok {
				return nil, httperr.NewBadRequest(fmt.Sprintf("batch entry %d: field is required", i))
			}
		}
	}

	return s.commitBatch(ctx, collection, func(ctx context.Context, r ports.FieldReader) ([]types.Field, error) {
		b := newBatchBuilder(collection, r)
		if payload.IsSequence() {
			for _, entry := range payload.Entries {
				name, _ := entryTarget(entry)
				if err := b.apply(ctx, name, entry); err != nil {
					return nil, err
				}
			}
			return b.result(), nil
		}
		all, err := r.ListFields(ctx, collection)
		if err != nil {
			return nil, err
		}
		for _, cur := range all {
			b.seed(cur)
			if err := b.apply(ctx, cur.Field, payload.Common); err != nil {
				return nil, err
			}
		}
		return b.result(), nil
	})
}

// BatchUpdateFieldWithIDs applies a batch to an explicit id list. A single
// mapping applies to every id; sequence entries must name an id from the list
// or are paired with the id at the same position.
func (s *SchemaService) BatchUpdateFieldWithIDs(ctx context.Context, collection string, ids []string, payload types.BatchPayload, opts url.Values) ([]types.Field, error) {
	s.traceOptions("batch_update_field_with_ids", collection, opts)
	if err := s.beginBatch(ctx, collection); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id == "" {
			return nil, httperr.NewBadRequest("field id list contains an empty entry")
		}
	}

	targets := ids
	if payload.IsSequence() {
		targets = make([]string, len(payload.Entries))
		for i, entry := range payload.Entries {
			name, ok := entryTarget(entry)
			if !ok {
				if i >= len(ids) {
					return nil, httperr.NewBadRequest(fmt.Sprintf("batch entry %d: field is required", i))
				}
				name = ids[i]
			}
			if !slices.Contains(ids, name) {
				return nil, httperr.NewBadRequest(fmt.Sprintf("batch entry %d: field %q is not in the id list", i, name))
			}
			targets[i] = name
		}
	}

	return s.commitBatch(ctx, collection, func(ctx context.Context, r ports.FieldReader) ([]types.Field, error) {
		b := newBatchBuilder(collection, r)
		for i, name := range targets {
			patch := payload.Common
			if payload.IsSequence() {
				patch = payload.Entries[i]
			}
			if err := b.apply(ctx, name, patch); err != nil {
				return nil, err
			}
		}
		return b.result(), nil
	})
}

func (s *SchemaService) RejectIfSystemCollection(_ context.Context, collection string) error {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(collection)), s.systemPrefix) {
		return httperr.NewSystemCollection(collection)
	}
	return nil
}

func (s *SchemaService) beginBatch(ctx context.Context, collection string) error {
	if err := s.authorize(ctx, collection, authz.ActionAdmin); err != nil {
		return err
	}
	if err := s.RejectIfSystemCollection(ctx, collection); err != nil {
		return err
	}
	return s.requireCollection(ctx, collection)
}

func (s *SchemaService) commitBatch(ctx context.Context, collection string, mutate ports.FieldMutation) ([]types.Field, error) {
	out, err := s.store.UpdateFields(ctx, collection, mutate)
	if err != nil {
		return nil, mapStoreError(err, collection, "")
	}
	if out == nil {
		out = []types.Field{}
	}
	for _, f := range out {
		s.publish(ctx, types.EventFieldUpdate, f)
	}
	return out, nil
}

func (s *SchemaService) authorize(ctx context.Context, collection string, action string) error {
	if s.authz == nil {
		return nil
	}
	subject := authz.SubjectFromRoleSlug(authz.RoleFromContext(ctx))
	allowed, enforced, err := s.authz.Authorize(subject, authz.DomainFromCollection(collection), authz.ObjectSchemaFields, action)
	if err != nil {
		return fmt.Errorf("schema: authorize %s: %w", subject, err)
	}
	if allowed {
		return nil
	}
	if !enforced {
		s.log.Info("authz shadow deny", "subject", subject, "collection", collection, "action", action)
		return nil
	}
	return httperr.NewUnauthorized(fmt.Sprintf("%s may not %s fields of %s", subject, action, collection))
}

func (s *SchemaService) requireCollection(ctx context.Context, collection string) error {
	ok, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("schema: collection lookup: %w", err)
	}
	if !ok {
		return httperr.NewCollectionNotFound(collection)
	}
	return nil
}

func (s *SchemaService) publish(ctx context.Context, action string, f types.Field) {
	if s.events == nil {
		return
	}
	actor := authz.RoleFromContext(ctx)
	if p, ok := authz.CurrentPrincipal(ctx); ok && p.ID != "" {
		actor = p.ID
	}
	ev := types.FieldEvent{
		EventID:     newEventID(),
		Action:      action,
		Collection:  f.Collection,
		Field:       f.Field,
		Actor:       actor,
		TimestampMs: nowMillis(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Error(err, "publish field event failed", "action", action, "collection", f.Collection, "field", f.Field)
	}
}

func (s *SchemaService) traceOptions(op string, collection string, opts url.Values) {
	if len(opts) == 0 {
		return
	}
	s.log.V(1).Info("query options", "op", op, "collection", collection, "options", opts.Encode())
}

func validateFieldName(name string) error {
	if name == "" {
		return httperr.NewBadRequest("field name is required")
	}
	if !fieldNamePattern.MatchString(name) {
		return httperr.NewBadRequest(fmt.Sprintf("invalid field name %q", name))
	}
	return nil
}

// buildDefinition merges patch onto base and validates the result.
func buildDefinition(base types.Field, patch types.FieldPayload) (types.Field, error) {
	attrs := types.MergeAttributes(base.Attributes, types.StripReserved(patch))

	typ := base.Type
	if raw, ok := attrs[types.KeyType]; ok {
		str, isStr := raw.(string)
		if !isStr {
			return types.Field{}, httperr.NewBadRequest("field type must be a string")
		}
		typ = str
	}
	delete(attrs, types.KeyType)
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ == "" {
		typ = "string"
	}
	if !slices.Contains(allowedFieldTypes, typ) {
		return types.Field{}, httperr.NewBadRequest(fmt.Sprintf("unsupported field type %q", typ))
	}

	if raw, ok := attrs[types.KeyValidation]; ok {
		rule, isStr := raw.(string)
		if !isStr {
			return types.Field{}, httperr.NewOperation(errInvalidValidationRule, "validation rule must be a string", nil)
		}
		if strings.TrimSpace(rule) != "" {
			if _, err := compileValidationRule(rule); err != nil {
				return types.Field{}, httperr.NewOperation(errInvalidValidationRule, "validation rule does not compile", err)
			}
			if def, ok := attrs["default"]; ok {
				valid, err := evalValidationRule(rule, def)
				if err != nil || !valid {
					return types.Field{}, httperr.NewOperation(errDefaultRejected, "default value fails the validation rule", err)
				}
			}
		}
	}

	return types.Field{
		ID:         base.ID,
		Collection: base.Collection,
		Field:      base.Field,
		Type:       typ,
		Attributes: attrs,
		UpdatedAt:  base.UpdatedAt,
	}, nil
}

func entryTarget(entry types.FieldPayload) (string, bool) {
	name, ok := entry[types.KeyField].(string)
	name = strings.TrimSpace(name)
	return name, ok && name != ""
}

func mapStoreError(err error, collection string, field string) error {
	if _, ok := errors.AsType[*httperr.Error](err); ok {
		return err
	}
	switch {
	case errors.Is(err, ports.ErrCollectionNotFound):
		return httperr.NewCollectionNotFound(collection)
	case errors.Is(err, ports.ErrFieldNotFound):
		if nf, ok := errors.AsType[*ports.FieldNotFoundError](err); ok {
			return httperr.NewFieldNotFound(nf.Collection, nf.Field)
		}
		return httperr.NewFieldNotFound(collection, field)
	case errors.Is(err, ports.ErrFieldExists):
		return httperr.NewOperation(errFieldExists, "field already exists", err)
	default:
		return fmt.Errorf("schema: store: %w", err)
	}
}

// batchBuilder accumulates the definitions of one batch. Repeated targets
// merge in order.
type batchBuilder struct {
	collection string
	reader     ports.FieldReader
	order      []string
	pending    map[string]types.Field
}

func newBatchBuilder(collection string, r ports.FieldReader) *batchBuilder {
	return &batchBuilder{collection: collection, reader: r, pending: make(map[string]types.Field)}
}

func (b *batchBuilder) seed(f types.Field) {
	if _, ok := b.pending[f.Field]; ok {
		return
	}
	b.order = append(b.order, f.Field)
	b.pending[f.Field] = f
}

func (b *batchBuilder) apply(ctx context.Context, name string, patch types.FieldPayload) error {
	cur, ok := b.pending[name]
	if !ok {
		f, err := b.reader.GetField(ctx, b.collection, name)
		if err != nil {
			return err
		}
		b.seed(f)
		cur = f
	}
	def, err := buildDefinition(cur, patch)
	if err != nil {
		return err
	}
	b.pending[name] = def
	return nil
}

func (b *batchBuilder) result() []types.Field {
	out := make([]types.Field, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.pending[name])
	}
	return out
}
