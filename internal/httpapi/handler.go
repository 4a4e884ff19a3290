// Package httpapi exposes scoring, status and registry listings over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/httpx"
	"github.com/mcules/model-registry/internal/policy"
	"github.com/mcules/model-registry/internal/registry"
	"github.com/mcules/model-registry/internal/scoring"
	"github.com/mcules/model-registry/internal/status"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Scoring  *scoring.Service
	Status   *status.Reporter
	Store    *registry.Store
	Activity *activity.Log
	// Policies is optional; policy and promotion routes answer 404 without it.
	Policies *policy.Store

	// DefaultFamily is scored when a request names no model.
	DefaultFamily string
}

func NewHandler(svc *scoring.Service, reporter *status.Reporter) *Handler {
	return &Handler{
		Scoring:       svc,
		Status:        reporter,
		Store:         svc.Store,
		Activity:      svc.Activity,
		DefaultFamily: "xgb",
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /v1/status", h.status)
	mux.HandleFunc("POST /v1/score", h.score)
	mux.HandleFunc("POST /v1/validate", h.validate)
	mux.HandleFunc("GET /v1/families", h.families)
	mux.HandleFunc("GET /v1/families/{family}/versions", h.versions)
	mux.HandleFunc("POST /v1/families/{family}/promote", h.promote)
	mux.HandleFunc("GET /v1/families/{family}/promotions", h.promotions)
	mux.HandleFunc("GET /v1/activity", h.activity)
	mux.HandleFunc("GET /v1/policies", h.listPolicies)
	mux.HandleFunc("GET /v1/policies/{family}", h.getPolicy)
	mux.HandleFunc("PUT /v1/policies/{family}", h.putPolicy)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Status.Snapshot(r.Context())
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Status failed")
		httpx.Error(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, snap)
}

// scoreRequest is a flat JSON object: "model" and "version" select the
// artifact set, every other key is a feature.
type scoreRequest struct {
	Family  string
	Version string
	Payload features.Payload
}

func decodeScoreRequest(r *http.Request, defaultFamily string) (scoreRequest, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return scoreRequest{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	if raw == nil {
		return scoreRequest{}, errors.New("request body must be a JSON object")
	}

	req := scoreRequest{Family: defaultFamily, Version: registry.Current}
	for key, dst := range map[string]*string{"model": &req.Family, "version": &req.Version} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return scoreRequest{}, fmt.Errorf("%q must be a string", key)
		}
		if s != "" {
			*dst = s
		}
		delete(raw, key)
	}
	req.Payload = features.Payload(raw)
	return req, nil
}

type scoreResponse struct {
	Prediction  bool     `json:"prediction"`
	Label       int      `json:"label"`
	Probability *float64 `json:"probability"`
	ModelUsed   string   `json:"model_used"`
	Version     string   `json:"version"`
	RequestID   string   `json:"request_id"`
}

func (h *Handler) score(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScoreRequest(r, h.DefaultFamily)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Scoring.ScoreTransaction(r.Context(), req.Family, req.Version, req.Payload)
	if err != nil {
		code, msg := errorStatus(err)
		httpx.Error(w, code, msg)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, scoreResponse{
		Prediction:  res.Label == 1,
		Label:       res.Label,
		Probability: res.Probability,
		ModelUsed:   res.Family,
		Version:     res.Version,
		RequestID:   res.RequestID,
	})
}

type validateResponse struct {
	Version    string               `json:"version"`
	Valid      bool                 `json:"valid"`
	Violations []features.Violation `json:"violations"`
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScoreRequest(r, h.DefaultFamily)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	version, err := h.Store.ResolvePointer(req.Family, req.Version)
	if err != nil {
		code, msg := registryErrorStatus(err)
		httpx.Error(w, code, msg)
		return
	}
	meta, err := h.Store.LoadMetadata(req.Family, version)
	if err != nil {
		code, msg := registryErrorStatus(err)
		httpx.Error(w, code, msg)
		return
	}

	v := scoring.Validate(req.Payload, features.Effective(meta.Constraints, h.Scoring.DefaultConstraints))
	if v == nil {
		v = []features.Violation{}
	}
	httpx.WriteJSON(w, http.StatusOK, validateResponse{Version: version, Valid: len(v) == 0, Violations: v})
}

type familyEntry struct {
	Family   string   `json:"family"`
	Current  string   `json:"current,omitempty"`
	Versions []string `json:"versions"`
}

func (h *Handler) families(w http.ResponseWriter, r *http.Request) {
	names, err := h.Store.ListFamilies()
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Listing families failed")
		httpx.Error(w, http.StatusInternalServerError, "listing failed")
		return
	}
	out := make([]familyEntry, 0, len(names))
	for _, name := range names {
		e := familyEntry{Family: name, Versions: []string{}}
		if v, err := h.Store.ResolvePointer(name, registry.Current); err == nil {
			e.Current = v
		}
		if vs, err := h.Store.ListVersions(name); err == nil && vs != nil {
			e.Versions = vs
		}
		out = append(out, e)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) versions(w http.ResponseWriter, r *http.Request) {
	family := r.PathValue("family")
	if !h.Store.FamilyExists(family) {
		httpx.Error(w, http.StatusNotFound, fmt.Sprintf("unknown family %q", family))
		return
	}
	vs, err := h.Store.ListVersions(family)
	if err != nil {
		code, msg := registryErrorStatus(err)
		httpx.Error(w, code, msg)
		return
	}
	if vs == nil {
		vs = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, vs)
}

type promoteRequest struct {
	Version string `json:"version"`
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	family := r.PathValue("family")
	var req promoteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Version == "" {
		httpx.Error(w, http.StatusBadRequest, `body must be {"version": "<id>"}`)
		return
	}
	if err := h.Store.Promote(r.Context(), family, req.Version); err != nil {
		code, msg := registryErrorStatus(err)
		httpx.Error(w, code, msg)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"family": family, "current": req.Version})
}

func (h *Handler) promotions(w http.ResponseWriter, r *http.Request) {
	if h.Policies == nil {
		http.NotFound(w, r)
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	list, err := h.Policies.ListPromotions(r.Context(), r.PathValue("family"), limit)
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Listing promotions failed")
		httpx.Error(w, http.StatusInternalServerError, "listing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

type activityRow struct {
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	Family  string    `json:"family"`
	Version string    `json:"version,omitempty"`
	Note    string    `json:"note,omitempty"`
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	var ev []activity.Event
	if family := r.URL.Query().Get("family"); family != "" {
		ev = h.Activity.ListFamily(family)
	} else {
		ev = h.Activity.List()
	}
	rows := make([]activityRow, 0, len(ev))
	for _, e := range ev {
		rows = append(rows, activityRow{
			At:      e.At,
			Type:    string(e.Type),
			Family:  e.Family,
			Version: e.Version,
			Note:    e.Note,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, rows)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	if h.Policies == nil {
		http.NotFound(w, r)
		return
	}
	list, err := h.Policies.ListPolicies(r.Context())
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Listing policies failed")
		httpx.Error(w, http.StatusInternalServerError, "listing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	if h.Policies == nil {
		http.NotFound(w, r)
		return
	}
	p, found, err := h.Policies.GetPolicy(r.Context(), r.PathValue("family"))
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Reading policy failed")
		httpx.Error(w, http.StatusInternalServerError, "policy unavailable")
		return
	}
	if !found {
		httpx.Error(w, http.StatusNotFound, "no policy for family")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) putPolicy(w http.ResponseWriter, r *http.Request) {
	if h.Policies == nil {
		http.NotFound(w, r)
		return
	}
	var p policy.FamilyPolicy
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&p); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.Family = r.PathValue("family")
	p.UpdatedAt = time.Now().UTC()
	if err := h.Policies.UpsertPolicy(r.Context(), p); err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		logr.FromContextOrDiscard(r.Context()).Error(err, "Writing policy failed")
		httpx.Error(w, http.StatusInternalServerError, "policy not saved")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// errorStatus maps a scoring error to an HTTP status and a caller-safe message.
func errorStatus(err error) (int, string) {
	switch {
	case scoring.IsClientError(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, scoring.ErrVersionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, scoring.ErrModelUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, scoring.ErrTimeout):
		return http.StatusGatewayTimeout, err.Error()
	case errors.Is(err, scoring.ErrPredictionFailed):
		return http.StatusInternalServerError, err.Error()
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func registryErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, registry.ErrPointerNotFound), errors.Is(err, registry.ErrArtifactNotFound):
		return http.StatusNotFound, "version not found"
	case errors.Is(err, registry.ErrDanglingPointer), errors.Is(err, registry.ErrCorruptArtifact):
		return http.StatusServiceUnavailable, "model unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
