package types

import (
	"bytes"
	"encoding/json"

	"github.com/jacksonlee411/schema-fields/pkg/httperr"
)

// Payload is a decoded request body: one JSON object or one JSON array.
type Payload struct {
	Object FieldPayload
	List   []any
}

// DecodePayload parses a request body. Empty bodies and JSON null decode to an
// empty Payload; scalars are rejected.
func DecodePayload(body []byte) (Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Payload{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Payload{}, httperr.NewBadRequest("invalid json payload")
	}
	if dec.More() {
		return Payload{}, httperr.NewBadRequest("invalid json payload")
	}

	switch v := raw.(type) {
	case nil:
		return Payload{}, nil
	case map[string]any:
		return Payload{Object: FieldPayload(v)}, nil
	case []any:
		return Payload{List: v}, nil
	default:
		return Payload{}, httperr.NewBadRequest("payload must be an object or an array")
	}
}

func (p Payload) Empty() bool { return len(p.Object) == 0 && len(p.List) == 0 }

// FirstIsAggregate reports whether the body is a sequence whose first element
// is itself an object or array.
func (p Payload) FirstIsAggregate() bool {
	if len(p.List) == 0 {
		return false
	}
	switch p.List[0].(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
