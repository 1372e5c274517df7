package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const (
	MetadataThumbnail = "thumbnail"
	MetadataChannel   = "channel"
)

// Metadata is the free-form key/value blob stored alongside a song. It is
// encoded as JSON text in the database and NULL when empty.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan metadata: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}

	// Older rows may hold JSON null for absent fields.
	var decoded map[string]*string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	out := make(Metadata, len(decoded))
	for k, v := range decoded {
		if v != nil {
			out[k] = *v
		}
	}
	*m = out
	return nil
}

// Get returns the value for key, or "" when absent.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Compact drops empty values and returns nil when nothing remains.
func (m Metadata) Compact() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
