package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/logging"
	"github.com/kozaktomas/presence/internal/verification"
)

// ProfilesHandler handles profile administration endpoints.
type ProfilesHandler struct {
	profiles database.ProfileWriter
	verifier Verifier
	log      logging.Logger
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(profiles database.ProfileWriter, verifier Verifier, log logging.Logger) *ProfilesHandler {
	return &ProfilesHandler{profiles: profiles, verifier: verifier, log: log.Named("profiles")}
}

// ProfileResponse describes a stored profile. Raw biometric data is never
// returned; only which signals are present.
type ProfileResponse struct {
	IdentityID       string    `json:"identity_id"`
	EmbeddingDim     int       `json:"embedding_dim"`
	HasLandmarks     bool      `json:"has_landmarks"`
	HasLegacyHash    bool      `json:"has_legacy_hash"`
	DeviceKey        string    `json:"device_key,omitempty"`
	Active           bool      `json:"active"`
	BiometricEnabled bool      `json:"biometric_enabled"`
	ApprovalStatus   string    `json:"approval_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func profileResponse(p *database.StoredProfile) ProfileResponse {
	return ProfileResponse{
		IdentityID:       p.IdentityID,
		EmbeddingDim:     p.Dim(),
		HasLandmarks:     p.Landmarks != nil,
		HasLegacyHash:    p.LegacyHash != "",
		DeviceKey:        logging.MaskKey(p.DeviceKey),
		Active:           p.Active,
		BiometricEnabled: p.BiometricEnabled,
		ApprovalStatus:   p.ApprovalStatus,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// ProfileListResponse is a page of profiles.
type ProfileListResponse struct {
	Profiles []ProfileResponse `json:"profiles"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// List handles GET /api/v1/profiles. The device_key and ids query
// parameters look profiles up directly instead of paging.
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", constants.DefaultPageSize, constants.MaxPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	if key := r.URL.Query().Get("device_key"); key != "" {
		h.listByDevice(w, r, key, limit)
		return
	}
	if ids := splitIDs(r.URL.Query().Get("ids")); len(ids) > 0 {
		h.listByIdentities(w, r, ids, limit)
		return
	}

	profiles, err := h.profiles.List(r.Context(), database.ListOptions{Limit: limit, Offset: offset, ActiveOnly: activeOnly})
	if err != nil {
		h.log.Error("failed to list profiles", logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	total, err := h.profiles.Count(r.Context(), activeOnly)
	if err != nil {
		h.log.Error("failed to count profiles", logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to count profiles")
		return
	}

	h.respondList(w, profiles, total, limit, offset)
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *ProfilesHandler) respondList(w http.ResponseWriter, profiles []database.StoredProfile, total, limit, offset int) {
	resp := ProfileListResponse{Profiles: make([]ProfileResponse, 0, len(profiles)), Total: total, Limit: limit, Offset: offset}
	for i := range profiles {
		resp.Profiles = append(resp.Profiles, profileResponse(&profiles[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// listByDevice answers ?device_key= with the active profile bound to it.
func (h *ProfilesHandler) listByDevice(w http.ResponseWriter, r *http.Request, key string, limit int) {
	p, err := h.profiles.GetByDeviceKey(r.Context(), key)
	if errors.Is(err, database.ErrProfileNotFound) {
		h.respondList(w, nil, 0, limit, 0)
		return
	}
	if err != nil {
		h.respondStoreError(w, "", err)
		return
	}
	h.respondList(w, []database.StoredProfile{*p}, 1, limit, 0)
}

// listByIdentities answers ?ids=a,b,c. Unknown identities are left out.
func (h *ProfilesHandler) listByIdentities(w http.ResponseWriter, r *http.Request, ids []string, limit int) {
	if len(ids) > limit {
		respondError(w, http.StatusBadRequest, "too many ids")
		return
	}
	profiles, err := h.profiles.ListByIdentities(r.Context(), ids)
	if err != nil {
		h.respondStoreError(w, "", err)
		return
	}
	h.respondList(w, profiles, len(profiles), limit, 0)
}

// Get handles GET /api/v1/profiles/{id}.
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, profileResponse(p))
}

// SetActiveRequest is the body of PUT /profiles/{id}/active.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetActive handles PUT /api/v1/profiles/{id}/active.
func (h *ProfilesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SetActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.profiles.SetActive(r.Context(), id, *req.Active); err != nil {
		h.respondStoreError(w, id, err)
		return
	}
	h.log.Info("profile active changed", logging.String("identity_id", sanitizeForLog(id)), logging.Bool("active", *req.Active))
	respondJSON(w, http.StatusOK, map[string]any{"identity_id": id, "active": *req.Active})
}

// Delete handles DELETE /api/v1/profiles/{id}.
func (h *ProfilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.profiles.Delete(r.Context(), id); err != nil {
		h.respondStoreError(w, id, err)
		return
	}
	h.log.Info("profile deleted", logging.String("identity_id", sanitizeForLog(id)))
	w.WriteHeader(http.StatusNoContent)
}

// SimilarResponse lists the profiles nearest to one identity.
type SimilarResponse struct {
	IdentityID string              `json:"identity_id"`
	Similar    []database.Neighbor `json:"similar"`
}

// Similar handles GET /api/v1/profiles/{id}/similar.
func (h *ProfilesHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	k, err := queryInt(r, "k", constants.DefaultSimilarLimit, constants.MaxSimilarLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	neighbors, err := h.verifier.Similar(r.Context(), id, k)
	if errors.Is(err, verification.ErrNoEmbedding) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.respondStoreError(w, id, err)
		return
	}
	if neighbors == nil {
		neighbors = []database.Neighbor{}
	}
	respondJSON(w, http.StatusOK, SimilarResponse{IdentityID: id, Similar: neighbors})
}

func (h *ProfilesHandler) respondStoreError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, database.ErrProfileNotFound):
		respondError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, database.ErrDeviceKeyTaken):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("profile operation failed", logging.String("identity_id", sanitizeForLog(id)), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "profile operation failed")
	}
}
