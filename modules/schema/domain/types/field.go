package types

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// Reserved attribute keys. They identify a field and are never stored as
// definition attributes.
const (
	KeyID         = "id"
	KeyCollection = "collection"
	KeyField      = "field"
	KeyType       = "type"
	KeySort       = "sort"
	KeyValidation = "validation"
)

// FieldPayload is the opaque attribute map of a field definition.
type FieldPayload map[string]any

// BatchPayload is either an ordered sequence of per-field updates (Entries) or
// one mapping applied to several targets (Common). Exactly one is set.
type BatchPayload struct {
	Entries []FieldPayload
	Common  FieldPayload
}

func (b BatchPayload) IsSequence() bool { return b.Entries != nil }

func (b BatchPayload) Len() int {
	if b.IsSequence() {
		return len(b.Entries)
	}
	return len(b.Common)
}

type Field struct {
	ID         string
	Collection string
	Field      string
	Type       string
	Attributes FieldPayload
	UpdatedAt  time.Time
}

// MarshalJSON flattens attributes next to the identifying keys; identifying
// keys win over attributes of the same name.
func (f Field) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Attributes)+5)
	maps.Copy(out, f.Attributes)
	out[KeyID] = f.ID
	out[KeyCollection] = f.Collection
	out[KeyField] = f.Field
	out[KeyType] = f.Type
	if !f.UpdatedAt.IsZero() {
		out["updated_at"] = f.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// SortKey returns the numeric "sort" attribute; fields without one sort last.
func (f Field) SortKey() (int, bool) {
	switch v := f.Attributes[KeySort].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// SortFields orders fields by their sort attribute, then by name.
func SortFields(fields []Field) {
	slices.SortStableFunc(fields, func(a, b Field) int {
		as, aok := a.SortKey()
		bs, bok := b.SortKey()
		switch {
		case aok && !bok:
			return -1
		case !aok && bok:
			return 1
		case aok && bok && as != bs:
			return as - bs
		}
		return strings.Compare(a.Field, b.Field)
	})
}

// StripReserved returns a copy of p without the identifying keys.
func StripReserved(p FieldPayload) FieldPayload {
	out := make(FieldPayload, len(p))
	for k, v := range p {
		switch k {
		case KeyID, KeyCollection, KeyField:
			continue
		}
		out[k] = v
	}
	return out
}

// MergeAttributes overlays patch onto base. A nil patch value removes the
// attribute.
func MergeAttributes(base FieldPayload, patch FieldPayload) FieldPayload {
	out := make(FieldPayload, len(base)+len(patch))
	maps.Copy(out, base)
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
