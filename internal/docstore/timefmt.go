package docstore

import "time"

// TimeLayout is how timestamps are persisted: UTC with a fixed nanosecond
// width, so stored values order chronologically as plain strings.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// normalizeTimes rewrites every RFC 3339 string inside v into TimeLayout.
func normalizeTimes(v any) any {
	switch val := v.(type) {
	case string:
		if len(val) < len("2006-01-02T15:04:05Z") || val[10] != 'T' {
			return val
		}
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return formatTime(t)
		}
		return val
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeTimes(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeTimes(inner)
		}
		return val
	default:
		return v
	}
}
