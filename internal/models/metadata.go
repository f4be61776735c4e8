package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Known metadata keys. The bag stays open; these are the keys the tools
// and the billing adapter write.
const (
	// image-generator
	MetaStyle    = "style"
	MetaSize     = "size"
	MetaImageURL = "imageUrl"

	// background-removal, object-removal
	MetaOriginalFilename = "originalFilename"
	MetaOriginalSize     = "originalSize"
	MetaObjectRemoved    = "objectRemoved"

	// any image tool when artifact storage is enabled
	MetaStorageKey = "storageKey"

	// blog-generator, article-writer
	MetaCount     = "count"
	MetaWordCount = "wordCount"

	MetaBackend = "backend"

	// payments
	MetaSessionID = "sessionId"
	MetaPlanType  = "planType"
	MetaUserID    = "userId"
	MetaEventID   = "eventId"
	MetaCredits   = "credits"
)

// Metadata is a string-keyed bag of JSON values stored as a JSON document.
type Metadata map[string]any

// String returns the value at key when it holds a string.
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Value implements driver.Valuer. It returns a string so Postgres can
// coerce it into jsonb.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	*m = out
	return nil
}
