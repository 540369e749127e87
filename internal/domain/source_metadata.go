package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// AutopatchStatus records what the router did with a detected pattern.
type AutopatchStatus string

const (
	AutopatchStatusApplied AutopatchStatus = "applied"
	AutopatchStatusPlanned AutopatchStatus = "planned"
	AutopatchStatusFailed  AutopatchStatus = "failed"
)

const (
	metaErrorCount = "error_count"
	metaAutopatch  = "autopatch"
	metaLocale     = "locale"
)

// AutopatchState is the structured view of source_metadata.autopatch.
type AutopatchState struct {
	Status         AutopatchStatus `json:"status,omitempty"`
	PatternID      string          `json:"patternId,omitempty"`
	RetryCount     int             `json:"retryCount,omitempty"`
	// RetryGranted is set by error-handler recovery: the pattern may run
	// once more even though RetryCount reached the limit.
	RetryGranted   bool            `json:"retryGranted,omitempty"`
	UpdatedAt      *time.Time      `json:"updatedAt,omitempty"`
	AutoFixMessage string          `json:"autoFixMessage,omitempty"`
}

// Exhausted reports whether a failed pattern used up its retries and no
// further retry was granted.
func (s AutopatchState) Exhausted(limit int) bool {
	return s.Status == AutopatchStatusFailed && s.RetryCount >= limit && !s.RetryGranted
}

// SourceMetadata is the opaque metadata map stored with each ticket. The
// router only interprets a handful of keys; everything else round-trips.
type SourceMetadata map[string]any

// Clone copies the top-level map and the autopatch sub-map.
func (m SourceMetadata) Clone() SourceMetadata {
	if m == nil {
		return SourceMetadata{}
	}
	cp := make(SourceMetadata, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			inner := make(map[string]any, len(sub))
			for sk, sv := range sub {
				inner[sk] = sv
			}
			v = inner
		}
		cp[k] = v
	}
	return cp
}

// ErrorCount returns source_metadata.error_count, zero when absent.
func (m SourceMetadata) ErrorCount() int {
	return toInt(m[metaErrorCount])
}

// SetErrorCount writes source_metadata.error_count.
func (m SourceMetadata) SetErrorCount(n int) {
	m[metaErrorCount] = n
}

// Locale returns the customer locale if known.
func (m SourceMetadata) Locale() string {
	if s, ok := m[metaLocale].(string); ok {
		return s
	}
	return ""
}

// Autopatch decodes source_metadata.autopatch. Both camelCase and
// snake_case retry keys are accepted since older rows use retry_count.
func (m SourceMetadata) Autopatch() AutopatchState {
	var state AutopatchState
	switch raw := m[metaAutopatch].(type) {
	case AutopatchState:
		return raw
	case *AutopatchState:
		if raw != nil {
			return *raw
		}
	case map[string]any:
		if s, ok := raw["status"].(string); ok {
			state.Status = AutopatchStatus(s)
		}
		if s, ok := raw["patternId"].(string); ok {
			state.PatternID = s
		}
		state.RetryCount = toInt(raw["retryCount"])
		if state.RetryCount == 0 {
			state.RetryCount = toInt(raw["retry_count"])
		}
		state.RetryGranted, _ = raw["retryGranted"].(bool)
		if s, ok := raw["autoFixMessage"].(string); ok {
			state.AutoFixMessage = s
		}
		switch ts := raw["updatedAt"].(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				state.UpdatedAt = &parsed
			}
		case time.Time:
			state.UpdatedAt = &ts
		}
	}
	return state
}

// SetAutopatch stores the state as a plain map so it survives JSON round-trips.
func (m SourceMetadata) SetAutopatch(state AutopatchState) {
	raw := map[string]any{
		"status":    string(state.Status),
		"patternId": state.PatternID,
	}
	if state.RetryCount > 0 {
		raw["retryCount"] = state.RetryCount
	}
	if state.RetryGranted {
		raw["retryGranted"] = true
	}
	if state.UpdatedAt != nil {
		raw["updatedAt"] = state.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if state.AutoFixMessage != "" {
		raw["autoFixMessage"] = state.AutoFixMessage
	}
	m[metaAutopatch] = raw
}

// ResetAutopatch removes the autopatch record so the pattern can be detected again.
func (m SourceMetadata) ResetAutopatch() {
	delete(m, metaAutopatch)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) {
			return 0
		}
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
