package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JobData is the optional JSON payload stored with a job: telemetry returned by a
// successful execution, or the serialized error of a failed one.
type JobData map[string]interface{}

// GormDataType implements gorm's schema.GormDataTypeInterface, so GORM treats the map
// as a scalar column instead of trying to parse it as a relation.
func (JobData) GormDataType() string {
	return "json"
}

// Value implements driver.Valuer. An empty payload is stored as NULL.
func (d JobData) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (d *JobData) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("failed to scan job data: unsupported type %T", value)
	}
	if len(b) == 0 {
		*d = nil
		return nil
	}
	out := make(JobData)
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	*d = out
	return nil
}

// Clone returns a shallow copy. Nested values are shared.
func (d JobData) Clone() JobData {
	if d == nil {
		return nil
	}
	out := make(JobData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
