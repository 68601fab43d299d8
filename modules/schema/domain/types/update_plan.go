package types

import (
	"strings"

	"github.com/jacksonlee411/schema-fields/pkg/httperr"
)

type UpdateKind int

const (
	UpdateSingle UpdateKind = iota
	UpdateBatchByIDs
	UpdateBatchByPayload
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateSingle:
		return "single"
	case UpdateBatchByIDs:
		return "batch_by_ids"
	case UpdateBatchByPayload:
		return "batch_by_payload"
	default:
		return "unknown"
	}
}

// UpdatePlan is the classified shape of an update request.
type UpdatePlan struct {
	Kind UpdateKind

	// Single
	Field      string
	Attributes FieldPayload

	// BatchByIDs / BatchByPayload
	IDs   []string
	Batch BatchPayload
}

func (p UpdatePlan) IsBatch() bool { return p.Kind != UpdateSingle }

// ClassifyUpdate decides the call shape of an update. A request is a batch
// when the body is a sequence of aggregates, or when the field segment holds a
// comma after its first byte. A leading comma alone (",title") stays a single
// update.
func ClassifyUpdate(field string, payload Payload) (UpdatePlan, error) {
	batch := payload.FirstIsAggregate() || strings.Index(field, ",") > 0
	if !batch {
		if payload.Object == nil {
			return UpdatePlan{}, httperr.NewBadRequest("payload must be an object")
		}
		return UpdatePlan{Kind: UpdateSingle, Field: field, Attributes: payload.Object}, nil
	}

	var b BatchPayload
	if payload.List != nil {
		b.Entries = make([]FieldPayload, 0, len(payload.List))
		for _, item := range payload.List {
			entry, ok := item.(map[string]any)
			if !ok {
				return UpdatePlan{}, httperr.NewBadRequest("batch entries must be objects")
			}
			b.Entries = append(b.Entries, FieldPayload(entry))
		}
	} else {
		b.Common = payload.Object
	}

	if field != "" {
		return UpdatePlan{Kind: UpdateBatchByIDs, IDs: SplitIDs(field), Batch: b}, nil
	}
	return UpdatePlan{Kind: UpdateBatchByPayload, Batch: b}, nil
}

// SplitIDs splits a batch field segment on commas. Names are trimmed; empty
// names are kept so the schema service can report them.
func SplitIDs(field string) []string {
	parts := strings.Split(field, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// SplitFieldNames splits a read path segment on commas, trimming whitespace
// and dropping empty names. Order and duplicates are preserved.
func SplitFieldNames(field string) []string {
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
