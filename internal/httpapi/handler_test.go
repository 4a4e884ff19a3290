package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/httpx"
	"github.com/mcules/model-registry/internal/legacy"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/model"
	"github.com/mcules/model-registry/internal/policy"
	"github.com/mcules/model-registry/internal/registry"
	"github.com/mcules/model-registry/internal/scoring"
	"github.com/mcules/model-registry/internal/status"
)

func newServer(t *testing.T) (*httptest.Server, *registry.Store) {
	t.Helper()
	store, err := registry.Open(t.TempDir(), 0)
	require.NoError(t, err)
	policies, err := policy.Open(filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = policies.Close() })
	store.Recorder = policies
	store.Activity = activity.New(64)

	_, err = store.Save(context.Background(), registry.SaveRequest{
		Family:      "xgb",
		Model:       &model.LogisticRegression{Coef: []float64{0.01, 0.05, -0.1, 0.2}},
		Version:     "v20250101_000000",
		Features:    []string{"amount", "hour", "dayofweek", "location"},
		Constraints: features.Constraints{"amount": {Min: features.Float(5.01)}},
	})
	require.NoError(t, err)

	svc := scoring.New(store)
	svc.Legacy = legacy.NewResolver(t.TempDir())
	svc.Policies = policies
	svc.Activity = store.Activity
	svc.Log = logging.NewTestLogger()

	h := NewHandler(svc, status.NewReporter(store, features.DefaultConstraints))
	h.Policies = policies
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(httpx.RequestID{Log: svc.Log}.Wrap(mux))
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		switch v := raw.(type) {
		case map[string]any:
			out = v
		default:
			out = map[string]any{"items": v}
		}
	}
	return resp.StatusCode, out
}

func TestScore(t *testing.T) {
	srv, _ := newServer(t)

	code, body := do(t, srv, http.MethodPost, "/v1/score", `{"amount":120.5,"hour":22,"dayofweek":5,"location":3}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "xgb", body["model_used"], "default family")
	assert.Equal(t, "v20250101_000000", body["version"])
	p, ok := body["probability"].(float64)
	require.True(t, ok)
	assert.True(t, p >= 0 && p <= 1)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"amount":`, http.StatusBadRequest},
		{"non-object body", `[1,2]`, http.StatusBadRequest},
		{"model not a string", `{"model":1}`, http.StatusBadRequest},
		{"missing feature", `{"amount":120.5,"hour":22,"dayofweek":5}`, http.StatusBadRequest},
		{"constraint violation", `{"amount":5.00,"hour":22,"dayofweek":5,"location":3}`, http.StatusBadRequest},
		{"invalid family name", `{"model":"../etc","amount":1}`, http.StatusBadRequest},
		{"unavailable family", `{"model":"lr","user_id":1,"amount":1,"location":1,"hour":1,"dayofweek":1}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, srv, http.MethodPost, "/v1/score", tt.body)
			assert.Equal(t, tt.code, code, body)
			assert.NotEmpty(t, body["error"])
		})
	}

	_, body = do(t, srv, http.MethodPost, "/v1/score", `{"amount":5.00,"hour":22,"dayofweek":5,"location":3}`)
	assert.Equal(t, "amount must be ≥ 5.01", body["error"])
}

func TestScoreReportsTransportRequestID(t *testing.T) {
	srv, _ := newServer(t)
	const payload = `{"amount":120.5,"hour":22,"dayofweek":5,"location":3}`

	tests := []struct {
		name     string
		headerID string
	}{
		{"caller supplied id", "req-7f3a"},
		{"generated id", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/score", strings.NewReader(payload))
			require.NoError(t, err)
			if tt.headerID != "" {
				req.Header.Set(httpx.RequestIDHeader, tt.headerID)
			}
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			headerID := resp.Header.Get(httpx.RequestIDHeader)
			require.NotEmpty(t, headerID)
			if tt.headerID != "" {
				assert.Equal(t, tt.headerID, headerID)
			}
			assert.Equal(t, headerID, body["request_id"])
		})
	}
}

func TestScoreVersionNotFound(t *testing.T) {
	srv, store := newServer(t)
	_, err := store.Save(context.Background(), registry.SaveRequest{
		Family:  "rf",
		Model:   &model.LogisticRegression{Coef: []float64{0, 0, 0, 0, 0}},
		Version: "v1",
	})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Root(), "rf", "current.txt")))

	code, _ := do(t, srv, http.MethodPost, "/v1/score", `{"model":"rf","user_id":1,"amount":1,"location":1,"hour":1,"dayofweek":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := do(t, srv, http.MethodPost, "/v1/score", `{"model":"rf","version":"v1","user_id":1,"amount":1,"location":1,"hour":1,"dayofweek":1}`)
	assert.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "v1", body["version"])
}

func TestValidate(t *testing.T) {
	srv, _ := newServer(t)

	code, body := do(t, srv, http.MethodPost, "/v1/validate", `{"amount":5.00,"hour":22}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])
	assert.Len(t, body["violations"], 1)

	code, body = do(t, srv, http.MethodPost, "/v1/validate", `{"amount":5.01}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["valid"])

	code, _ = do(t, srv, http.MethodPost, "/v1/validate", `{"model":"nope","amount":5.01}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusAndListings(t *testing.T) {
	srv, _ := newServer(t)

	code, body := do(t, srv, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	fams := body["families"].(map[string]any)
	xgb := fams["xgb"].(map[string]any)
	assert.Equal(t, "v20250101_000000", xgb["version"])

	code, body = do(t, srv, http.MethodGet, "/v1/families", "")
	require.Equal(t, http.StatusOK, code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "v20250101_000000", items[0].(map[string]any)["current"])

	code, _ = do(t, srv, http.MethodGet, "/v1/families/nope/versions", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestPromoteAndAudit(t *testing.T) {
	srv, store := newServer(t)
	_, err := store.Save(context.Background(), registry.SaveRequest{
		Family:   "xgb",
		Model:    &model.LogisticRegression{Coef: []float64{0, 0, 0, 0}},
		Version:  "v20250201_000000",
		Features: []string{"amount", "hour", "dayofweek", "location"},
	})
	require.NoError(t, err)

	code, _ := do(t, srv, http.MethodPost, "/v1/families/xgb/promote", `{"version":"v20250101_000000"}`)
	require.Equal(t, http.StatusOK, code)
	v, err := store.ResolvePointer("xgb", registry.Current)
	require.NoError(t, err)
	assert.Equal(t, "v20250101_000000", v)

	code, _ = do(t, srv, http.MethodPost, "/v1/families/xgb/promote", `{"version":"v29990101_000000"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, srv, http.MethodPost, "/v1/families/xgb/promote", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := do(t, srv, http.MethodGet, "/v1/families/xgb/promotions", "")
	require.Equal(t, http.StatusOK, code)
	promos := body["items"].([]any)
	require.Len(t, promos, 3)
	assert.Equal(t, "v20250101_000000", promos[0].(map[string]any)["to"])

	code, body = do(t, srv, http.MethodGet, "/v1/activity?family=xgb", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["items"])
}

func TestPolicies(t *testing.T) {
	srv, _ := newServer(t)

	code, _ := do(t, srv, http.MethodGet, "/v1/policies/xgb", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, srv, http.MethodPut, "/v1/policies/xgb", `{"threshold":2}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := do(t, srv, http.MethodPut, "/v1/policies/xgb", `{"threshold":0.99}`)
	require.Equal(t, http.StatusOK, code, body)

	code, body = do(t, srv, http.MethodGet, "/v1/policies/xgb", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.99, body["threshold"])

	code, body = do(t, srv, http.MethodPost, "/v1/score", `{"amount":120.5,"hour":22,"dayofweek":5,"location":3}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["prediction"], "threshold override applies")
}
