package types

const (
	EventFieldCreate = "field.create"
	EventFieldUpdate = "field.update"
	EventFieldDelete = "field.delete"
)

// FieldEvent describes a committed field mutation.
type FieldEvent struct {
	EventID     string `msgpack:"event_id" json:"event_id"`
	Action      string `msgpack:"action" json:"action"`
	Collection  string `msgpack:"collection" json:"collection"`
	Field       string `msgpack:"field" json:"field"`
	Actor       string `msgpack:"actor" json:"actor"`
	TimestampMs int64  `msgpack:"timestamp_ms" json:"timestamp_ms"`
}
