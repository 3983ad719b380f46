package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions for the types stored as JSON columns.
var (
	_ sql.Scanner   = (*Snapshot)(nil)
	_ driver.Valuer = Snapshot(nil)
	_ sql.Scanner   = (*Geometry)(nil)
	_ driver.Valuer = Geometry{}
)

// scanJSONB scans a JSON or JSONB database value into dest. It handles nil, []byte and
// string representations from different drivers.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements sql.Scanner.
func (s *Snapshot) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	return scanJSONB(s, value)
}

// Value implements driver.Valuer. A nil snapshot is stored as an empty object.
func (s Snapshot) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return s.MarshalJSON()
}

// Scan implements sql.Scanner.
func (g *Geometry) Scan(value any) error {
	if value == nil {
		g.Geometry = nil
		return nil
	}
	return scanJSONB(g, value)
}

// Value implements driver.Valuer.
func (g Geometry) Value() (driver.Value, error) {
	if g.Geometry == nil {
		return nil, nil
	}
	return g.MarshalJSON()
}
