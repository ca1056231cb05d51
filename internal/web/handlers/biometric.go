package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/kozaktomas/presence/internal/biometric"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/facematch"
	"github.com/kozaktomas/presence/internal/locale"
	"github.com/kozaktomas/presence/internal/logging"
	"github.com/kozaktomas/presence/internal/verification"
)

// Verifier makes login and enrollment decisions.
type Verifier interface {
	Login(ctx context.Context, req biometric.VerificationRequest) (verification.LoginResult, error)
	Enroll(ctx context.Context, req verification.EnrollRequest) (verification.EnrollResult, error)
	Similar(ctx context.Context, identityID string, k int) ([]database.Neighbor, error)
}

// BiometricHandler handles biometric login and enrollment endpoints.
type BiometricHandler struct {
	verifier Verifier
	messages *locale.Catalog
	log      logging.Logger
}

// NewBiometricHandler creates a new biometric handler.
func NewBiometricHandler(verifier Verifier, messages *locale.Catalog, log logging.Logger) *BiometricHandler {
	return &BiometricHandler{verifier: verifier, messages: messages, log: log.Named("biometric")}
}

// sampleRequest holds the signals common to login and enrollment.
type sampleRequest struct {
	Embedding  []float32                  `json:"embedding" validate:"omitempty,max=4096"`
	Landmarks  *facematch.LandmarkPayload `json:"landmarks"`
	LegacyHash string                     `json:"legacy_hash" validate:"omitempty,max=512"`
	DeviceKey  string                     `json:"device_key" validate:"omitempty,max=256"`
	Language   string                     `json:"language" validate:"omitempty,max=35"`
}

func (s *sampleRequest) toVerification() biometric.VerificationRequest {
	return biometric.VerificationRequest{
		Embedding:  s.Embedding,
		Landmarks:  s.Landmarks,
		LegacyHash: s.LegacyHash,
		DeviceKey:  s.DeviceKey,
	}
}

// LoginRequest is the body of POST /biometric/login.
type LoginRequest struct {
	sampleRequest
}

// LoginResponse reports a login decision. Rejections carry no identity or
// score so a caller cannot probe the population.
type LoginResponse struct {
	RequestID  string  `json:"request_id"`
	Accepted   bool    `json:"accepted"`
	IdentityID string  `json:"identity_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Message    string  `json:"message"`
	Signal     string  `json:"signal,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// EnrollRequest is the body of POST /biometric/enroll.
type EnrollRequest struct {
	sampleRequest
	IdentityID       string `json:"identity_id" validate:"required,max=128,identity"`
	BiometricEnabled *bool  `json:"biometric_enabled"`
	ApprovalStatus   string `json:"approval_status" validate:"omitempty,oneof=pending approved rejected"`
}

// EnrollResponse reports an enrollment outcome.
type EnrollResponse struct {
	RequestID           string  `json:"request_id"`
	Allowed             bool    `json:"allowed"`
	Classification      string  `json:"classification"`
	Reason              string  `json:"reason,omitempty"`
	Message             string  `json:"message"`
	ConflictingIdentity string  `json:"conflicting_identity,omitempty"`
	Similarity          float64 `json:"similarity,omitempty"`
	Signal              string  `json:"signal,omitempty"`
	SameDevice          bool    `json:"same_device,omitempty"`
}

// Login handles POST /api/v1/biometric/login.
func (h *BiometricHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.verifier.Login(r.Context(), req.toVerification())
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	accept := r.Header.Get("Accept-Language")
	resp := LoginResponse{RequestID: res.RequestID, Accepted: res.Accepted}
	if res.Accepted {
		resp.IdentityID = res.IdentityID()
		resp.Signal = string(res.Match.Signal)
		resp.Similarity = res.Match.Similarity
		resp.Message = h.messages.Message(req.Language, accept, locale.KeyAccepted)
	} else {
		resp.Reason = string(res.Reason)
		resp.Message = h.messages.Reason(req.Language, accept, res.Reason, false)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Enroll handles POST /api/v1/biometric/enroll.
func (h *BiometricHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := verification.EnrollRequest{
		VerificationRequest: req.toVerification(),
		BiometricEnabled:    req.BiometricEnabled == nil || *req.BiometricEnabled,
		ApprovalStatus:      biometric.ApprovalStatus(req.ApprovalStatus),
	}
	in.IdentityID = req.IdentityID

	res, err := h.verifier.Enroll(r.Context(), in)
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	accept := r.Header.Get("Accept-Language")
	resp := EnrollResponse{
		RequestID:           res.RequestID,
		Allowed:             res.Allow,
		Classification:      string(res.Classification),
		Reason:              string(res.Reason),
		ConflictingIdentity: res.ConflictingIdentity,
		Similarity:          res.Similarity,
		Signal:              string(res.Signal),
		SameDevice:          res.SameDevice,
	}
	if res.Allow {
		resp.Message = h.messages.Message(req.Language, accept, locale.KeyEnrolled)
	} else {
		resp.Message = h.messages.Reason(req.Language, accept, res.Reason, res.SameDevice)
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondFailure maps a service error to a status code. Rejections never get
// here; these are requests the service could not decide.
func (h *BiometricHandler) respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verification.ErrIdentityRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, biometric.ErrPopulationTooLarge):
		h.log.Error("population above limit", logging.Err(err))
		respondError(w, http.StatusServiceUnavailable, "candidate population too large")
	default:
		h.log.Error("verification failed", logging.Err(err))
		respondError(w, http.StatusInternalServerError, "verification failed")
	}
}
