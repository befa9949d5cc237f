package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Timestamps are stored as unix milliseconds; maps and tags as JSON text.

func toMs(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func toMsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMs(*t)
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMsPtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMs(ms.Int64)
	return &t
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func encodeJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func encodeTags(tags []string) string {
	if tags == nil {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeMap(data string) map[string]any {
	if data == "" || data == "{}" || data == "null" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil
	}
	return m
}

func decodeTags(data string) []string {
	if data == "" || data == "[]" || data == "null" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil
	}
	return tags
}
