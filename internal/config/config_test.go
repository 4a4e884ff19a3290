package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/model-registry/internal/features"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := LoadFrom("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, 2*time.Second, c.ScoreTimeout())
	assert.Equal(t, "xgb", c.DefaultFamily)
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modelreg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_root: /srv/models
decision_threshold: 0.7
cache_size: 8
legacy_fallback: false
default_constraints:
  amount:
    min: 1
    max: 10000
legacy_files:
  lr: lr.json
`), 0o644))

	c, err := LoadFrom(path, envMap(map[string]string{
		"MODEL_ROOT":       "/override",
		"SCORE_TIMEOUT_MS": " 150 ",
		"LOG_DEV":          "true",
		"HTTP_ADDR":        "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/override", c.ModelRoot)
	assert.Equal(t, 0.7, c.Threshold)
	assert.Equal(t, 8, c.CacheSize)
	assert.False(t, c.LegacyFallback)
	assert.Equal(t, 150*time.Millisecond, c.ScoreTimeout())
	assert.True(t, c.LogDev)
	assert.Equal(t, ":8080", c.HTTPAddr, "empty variables keep the previous value")
	assert.Equal(t, map[string]string{"lr": "lr.json"}, c.LegacyFiles)
	assert.Equal(t, features.Bound{Min: features.Float(1), Max: features.Float(10000)}, c.DefaultConstraints["amount"])
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unparsable int", map[string]string{"CACHE_SIZE": "many"}},
		{"unparsable bool", map[string]string{"LEGACY_FALLBACK": "sometimes"}},
		{"threshold out of range", map[string]string{"DECISION_THRESHOLD": "1.5"}},
		{"zero threshold", map[string]string{"DECISION_THRESHOLD": "0"}},
		{"negative threshold", map[string]string{"DECISION_THRESHOLD": "-0.1"}},
		{"zero cache", map[string]string{"CACHE_SIZE": "0"}},
		{"negative timeout", map[string]string{"SCORE_TIMEOUT_MS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom("", envMap(tt.env))
			assert.Error(t, err)
		})
	}

	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	assert.Error(t, err)
}
