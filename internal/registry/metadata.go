package registry

import (
	"encoding/json"
	"time"

	"github.com/mcules/model-registry/internal/features"
)

// Metadata is the content of metadata.json.
type Metadata struct {
	Version     string               `json:"version"`
	Family      string               `json:"family"`
	CreatedAt   string               `json:"created_at"`
	Metrics     Metrics              `json:"metrics"`
	Features    []string             `json:"features,omitempty"`
	Constraints features.Constraints `json:"constraints,omitempty"`
	Note        string               `json:"note,omitempty"`
	ModelDigest string               `json:"model_digest,omitempty"`
}

// Created parses CreatedAt. Both RFC 3339 and zone-less ISO 8601 timestamps
// are accepted.
func (m Metadata) Created() (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, m.CreatedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Metrics maps a training metric name to its value. Non-numeric entries
// (older migration tools wrote free-text notes here) are dropped on decode.
type Metrics map[string]float64

func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metrics, len(raw))
	for k, v := range raw {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			out[k] = f
		}
	}
	*m = out
	return nil
}
