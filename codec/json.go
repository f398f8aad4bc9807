package codec

import "encoding/json"

// JSON is the standard-library JSON codec. It is the most portable
// option and decodes anything the default codec wrote, since both speak
// the same wire format.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the stable codec name ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used for newly written snapshots. Existing files
// are self-describing and select their codec by recorded name, so
// changing the default never breaks old data.
var Default Codec = GoJSON{}
