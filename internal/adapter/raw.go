package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"catalogsync/internal/normalize"
)

// Record is one loosely typed provider object. Values are whatever the feed
// carried: strings, json.Number, bools, arrays or nested objects.
type Record map[string]any

// Get returns the first non-empty value among keys.
func (r Record) Get(keys ...string) any {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

// RawBuilding is a provider building with its nested units.
type RawBuilding struct {
	Fields Record
	Units  []Record
}

// ID returns the trimmed external building id, for logging.
func (b RawBuilding) ID() string {
	return normalize.String(b.Fields.Get("id", "building_id"))
}

func (b *RawBuilding) UnmarshalJSON(data []byte) error {
	var fields Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return err
	}

	b.Units = nil
	if units, ok := fields["units"].([]any); ok {
		for _, u := range units {
			m, isObject := u.(map[string]any)
			if !isObject {
				// kept so it is counted and rejected by validation
				m = map[string]any{}
			}
			b.Units = append(b.Units, Record(m))
		}
	}
	delete(fields, "units")
	b.Fields = fields
	return nil
}

// DecodeFeed parses a JSON feed holding one building, an array of buildings,
// or an object with a "buildings" array.
func DecodeFeed(data []byte) ([]RawBuilding, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var buildings []RawBuilding
		if err := json.Unmarshal(trimmed, &buildings); err != nil {
			return nil, fmt.Errorf("failed to decode building array: %w", err)
		}
		return buildings, nil
	case '{':
		var envelope struct {
			Buildings []RawBuilding `json:"buildings"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Buildings != nil {
			return envelope.Buildings, nil
		}
		var building RawBuilding
		if err := json.Unmarshal(trimmed, &building); err != nil {
			return nil, fmt.Errorf("failed to decode building: %w", err)
		}
		return []RawBuilding{building}, nil
	default:
		return nil, fmt.Errorf("feed is not a JSON object or array")
	}
}
