package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string stored as a JSON array column. The Scan/Value
// pair mirrors the teacher's ULID custom-type technique (internal type with
// database/sql/driver.Valuer + sql.Scanner), generalized to a slice instead
// of a fixed-width identifier.
type StringList []string

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshaling string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scanning string list: %w", err)
	}
	*s = out
	return nil
}

// GormDataType returns the GORM column type.
func (StringList) GormDataType() string {
	return "text"
}

// Contains reports whether s contains value (case-sensitive, exact match).
func (s StringList) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// ContextMap is a free-form string map stored as a JSON object column, used
// for FailureRecord.Context.
type ContextMap map[string]string

// Value implements driver.Valuer.
func (c ContextMap) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(c))
	if err != nil {
		return nil, fmt.Errorf("marshaling context map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *ContextMap) Scan(value any) error {
	if value == nil {
		*c = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for ContextMap: %T", value)
	}
	if len(raw) == 0 {
		*c = nil
		return nil
	}
	out := make(map[string]string)
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scanning context map: %w", err)
	}
	*c = out
	return nil
}

// GormDataType returns the GORM column type.
func (ContextMap) GormDataType() string {
	return "text"
}
