package agd

import "encoding/json"

// ProbeRecord is a probe-defined JSON value paired with a key, typically the
// connection's trace_id.  The Recorder never inspects Value; it is opaque
// by design (spec.md §3).
type ProbeRecord struct {
	Key   string
	Value any
}

// jsonlEnvelope is the on-disk shape the Recorder writes: a single JSON
// object per line, `{"key": <string>, "value": <value>}`.
type jsonlEnvelope struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// MarshalJSON implements the [json.Marshaler] interface for ProbeRecord.
func (r ProbeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonlEnvelope{Key: r.Key, Value: r.Value})
}
