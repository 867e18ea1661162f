package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Stats holds content statistics (polygon count etc.). Opaque to the engine,
// persisted as JSON text.
type Stats map[string]any

func (s Stats) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Stats) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Stats{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("stats: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*s = Stats{}
		return nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	*s = m
	return nil
}
