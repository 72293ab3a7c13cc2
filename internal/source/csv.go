package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"catalogsync/internal/adapter"
)

// buildingPrefix marks CSV columns that belong to the building rather than the unit.
const buildingPrefix = "building_"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV turns a flat unit-per-row CSV into raw buildings. Rows are
// grouped by building_id in the order buildings first appear. Columns
// prefixed with "building_" fill the building; the rest fill the unit.
// Comma and semicolon delimiters are both accepted.
func ParseCSV(data []byte) ([]adapter.RawBuilding, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	idCol := -1
	for i, h := range header {
		if h == buildingPrefix+"id" {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("csv header has no %sid column", buildingPrefix)
	}

	var order []string
	groups := make(map[string]*adapter.RawBuilding)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		buildingID := ""
		if idCol < len(record) {
			buildingID = strings.TrimSpace(record[idCol])
		}
		b, ok := groups[buildingID]
		if !ok {
			b = &adapter.RawBuilding{Fields: adapter.Record{}}
			groups[buildingID] = b
			order = append(order, buildingID)
		}

		unit := adapter.Record{}
		for i, col := range header {
			if i >= len(record) || col == "" {
				continue
			}
			value := strings.TrimSpace(record[i])
			if field, isBuilding := strings.CutPrefix(col, buildingPrefix); isBuilding {
				// first non-empty value per building wins
				if _, set := b.Fields[field]; !set && value != "" {
					b.Fields[field] = value
				}
				continue
			}
			unit[col] = value
		}
		b.Units = append(b.Units, unit)
	}

	out := make([]adapter.RawBuilding, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out, nil
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

// looksLikeHTML checks the first KB for the tags a login or error page starts with.
func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = bytes.ToLower(head)
	for _, tag := range [][]byte{[]byte("<html"), []byte("<head"), []byte("<body")} {
		if bytes.Contains(head, tag) {
			return true
		}
	}
	return false
}
