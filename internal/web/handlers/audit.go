package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/logging"
)

// AuditHandler lists recorded verification decisions.
type AuditHandler struct {
	audit database.AuditWriter
	log   logging.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(audit database.AuditWriter, log logging.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log.Named("audit")}
}

// AuditEventResponse is one recorded decision.
type AuditEventResponse struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id,omitempty"`
	Mode             string    `json:"mode"`
	IdentityID       string    `json:"identity_id,omitempty"`
	Outcome          string    `json:"outcome"`
	Reason           string    `json:"reason,omitempty"`
	Signal           string    `json:"signal,omitempty"`
	Similarity       float64   `json:"similarity"`
	DeviceKeyPresent bool      `json:"device_key_present"`
	Candidates       int       `json:"candidates"`
	CreatedAt        time.Time `json:"created_at"`
}

// List handles GET /api/v1/audit.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", constants.DefaultAuditLimit, constants.MaxPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	identity := r.URL.Query().Get("identity")

	events, err := h.audit.List(r.Context(), identity, limit)
	if err != nil {
		h.log.Error("failed to list audit events", logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}

	resp := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, AuditEventResponse{
			ID:               e.ID,
			RequestID:        e.RequestID,
			Mode:             e.Mode,
			IdentityID:       e.IdentityID,
			Outcome:          e.Outcome,
			Reason:           e.Reason,
			Signal:           e.Signal,
			Similarity:       e.Similarity,
			DeviceKeyPresent: e.DeviceKeyPresent,
			Candidates:       e.Candidates,
			CreatedAt:        e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": resp})
}
