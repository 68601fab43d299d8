package persistence

import (
	"context"
	"maps"
	"sync"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

type FieldMemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]types.Field
}

func NewFieldMemoryStore(collections ...string) *FieldMemoryStore {
	s := &FieldMemoryStore{collections: make(map[string]map[string]types.Field)}
	for _, c := range collections {
		s.collections[c] = make(map[string]types.Field)
	}
	return s
}

var _ ports.FieldStore = (*FieldMemoryStore)(nil)

func (s *FieldMemoryStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *FieldMemoryStore) EnsureCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = make(map[string]types.Field)
	}
	return nil
}

func (s *FieldMemoryStore) GetField(_ context.Context, collection string, field string) (types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(collection, field)
}

func (s *FieldMemoryStore) ListFields(_ context.Context, collection string) ([]types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(collection)
}

func (s *FieldMemoryStore) getLocked(collection string, field string) (types.Field, error) {
	fields, ok := s.collections[collection]
	if !ok {
		return types.Field{}, ports.ErrCollectionNotFound
	}
	f, ok := fields[field]
	if !ok {
		return types.Field{}, ports.NewFieldNotFound(collection, field)
	}
	return cloneField(f), nil
}

func (s *FieldMemoryStore) listLocked(collection string) ([]types.Field, error) {
	fields, ok := s.collections[collection]
	if !ok {
		return nil, ports.ErrCollectionNotFound
	}
	out := make([]types.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, cloneField(f))
	}
	types.SortFields(out)
	return out, nil
}

func (s *FieldMemoryStore) InsertField(_ context.Context, f types.Field) (types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.collections[f.Collection]
	if !ok {
		return types.Field{}, ports.ErrCollectionNotFound
	}
	if _, exists := fields[f.Field]; exists {
		return types.Field{}, ports.ErrFieldExists
	}
	f, err := prepareInsert(f)
	if err != nil {
		return types.Field{}, err
	}
	fields[f.Field] = cloneField(f)
	return f, nil
}

func (s *FieldMemoryStore) UpdateFields(ctx context.Context, collection string, mutate ports.FieldMutation) ([]types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.collections[collection]
	if !ok {
		return nil, ports.ErrCollectionNotFound
	}
	updates, err := mutate(ctx, memoryView{s: s})
	if err != nil {
		return nil, err
	}
	if err := checkUpdates(collection, updates); err != nil {
		return nil, err
	}
	for _, u := range updates {
		if _, ok := fields[u.Field]; !ok {
			return nil, ports.NewFieldNotFound(collection, u.Field)
		}
	}

	now := nowUTC()
	out := make([]types.Field, 0, len(updates))
	for _, u := range updates {
		cur := fields[u.Field]
		cur.Type = u.Type
		cur.Attributes = maps.Clone(u.Attributes)
		cur.UpdatedAt = now
		fields[u.Field] = cur
		out = append(out, cloneField(cur))
	}
	return out, nil
}

func (s *FieldMemoryStore) DeleteField(_ context.Context, collection string, field string) (types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.collections[collection]
	if !ok {
		return types.Field{}, ports.ErrCollectionNotFound
	}
	f, ok := fields[field]
	if !ok {
		return types.Field{}, ports.NewFieldNotFound(collection, field)
	}
	delete(fields, field)
	return f, nil
}

// memoryView reads a store whose mutex is already held.
type memoryView struct {
	s *FieldMemoryStore
}

func (v memoryView) GetField(_ context.Context, collection string, field string) (types.Field, error) {
	return v.s.getLocked(collection, field)
}

func (v memoryView) ListFields(_ context.Context, collection string) ([]types.Field, error) {
	return v.s.listLocked(collection)
}

func cloneField(f types.Field) types.Field {
	f.Attributes = maps.Clone(f.Attributes)
	if f.Attributes == nil {
		f.Attributes = types.FieldPayload{}
	}
	return f
}
