package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Snapshot is the raw document state of a booking as the record store or an
// event source delivered it. Fields may be missing or carry unexpected types;
// the accessors below fall back to the zero value instead of failing.
type Snapshot map[string]any

// DecodeSnapshot parses a JSON document. A JSON null yields a nil Snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// String returns the field when it is a string, otherwise "".
func (s Snapshot) String(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns true only when the field is the boolean true.
func (s Snapshot) Bool(key string) bool {
	v, ok := s[key].(bool)
	return ok && v
}

// Number returns the field as a finite float. Numeric strings are accepted.
func (s Snapshot) Number(key string) (float64, bool) {
	var f float64
	switch v := s[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// Time accepts a native time value, an RFC 3339 (or plain date) string, or a
// store timestamp object of the form {"_seconds": n, "_nanoseconds": n}.
func (s Snapshot) Time(key string) (time.Time, bool) {
	switch v := s[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		v = strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case map[string]any:
		secs, ok := Snapshot(v).Number("_seconds")
		if !ok {
			secs, ok = Snapshot(v).Number("seconds")
		}
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := Snapshot(v).Number("_nanoseconds")
		return time.Unix(int64(secs), int64(nanos)).UTC(), true
	}
	return time.Time{}, false
}
