package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Details is the event attribute bag. Known keys are typed; anything else is kept in
// Extra and written back out unchanged.
type Details struct {
	AddedLength int
	TextLength  int
	CharCount   int
	TextHash    string
	Extra       map[string]json.RawMessage
}

const (
	keyAddedLength = "addedLength"
	keyTextLength  = "textLength"
	keyCharCount   = "charCount"
	keyTextHash    = "textHash"
)

// DeclaredLength returns the inserted length the client declared, preferring
// addedLength, then textLength, then charCount.
func (d Details) DeclaredLength() int {
	switch {
	case d.AddedLength > 0:
		return d.AddedLength
	case d.TextLength > 0:
		return d.TextLength
	default:
		return d.CharCount
	}
}

// UnmarshalJSON never fails: bad numbers become 0, bad strings become "" and a
// non-object payload decodes to empty Details.
func (d *Details) UnmarshalJSON(data []byte) error {
	*d = Details{}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	for k, v := range raw {
		switch k {
		case keyAddedLength:
			d.AddedLength = lenientInt(v)
		case keyTextLength:
			d.TextLength = lenientInt(v)
		case keyCharCount:
			d.CharCount = lenientInt(v)
		case keyTextHash:
			d.TextHash = lenientString(v)
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]json.RawMessage)
			}
			d.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON writes typed fields only when set, merged with Extra.
func (d Details) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extra)+4)
	for k, v := range d.Extra {
		out[k] = v
	}
	if d.AddedLength != 0 {
		out[keyAddedLength] = d.AddedLength
	}
	if d.TextLength != 0 {
		out[keyTextLength] = d.TextLength
	}
	if d.CharCount != 0 {
		out[keyCharCount] = d.CharCount
	}
	if d.TextHash != "" {
		out[keyTextHash] = d.TextHash
	}
	return json.Marshal(out)
}

func lenientInt(v json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return clampInt(f)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return clampInt(f)
		}
	}
	return 0
}

func clampInt(f float64) int {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

func lenientString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return ""
}
