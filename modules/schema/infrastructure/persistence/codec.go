package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

var (
	newFieldID = func() (string, error) {
		u, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return u.String(), nil
	}
	nowUTC = func() time.Time { return time.Now().UTC() }
)

func encodeAttributes(attrs types.FieldPayload) ([]byte, error) {
	if attrs == nil {
		attrs = types.FieldPayload{}
	}
	return json.Marshal(attrs)
}

func decodeAttributes(raw []byte) (types.FieldPayload, error) {
	out := types.FieldPayload{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// prepareInsert assigns an id and timestamp to a new field.
func prepareInsert(f types.Field) (types.Field, error) {
	if f.ID == "" {
		id, err := newFieldID()
		if err != nil {
			return types.Field{}, err
		}
		f.ID = id
	}
	if f.Attributes == nil {
		f.Attributes = types.FieldPayload{}
	}
	f.UpdatedAt = nowUTC()
	return f, nil
}

// checkUpdates rejects mutation results that leave the locked collection.
func checkUpdates(collection string, updates []types.Field) error {
	for _, u := range updates {
		if u.Collection != collection {
			return fmt.Errorf("update of %s.%s outside collection %s", u.Collection, u.Field, collection)
		}
	}
	return nil
}
