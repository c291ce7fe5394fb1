package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Cluster records and assignment tables are map/struct shaped, so JSON is
// stable and portable for them. Encoding of the same value always produces
// the same bytes, which the registry relies on for byte-stable snapshots.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the default codec used by the library.
var Default Codec = JSON{}
