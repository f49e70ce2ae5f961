package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services/scheduler"
	"github.com/upb/llm-relay/utils"
	"go.uber.org/zap"
)

// SelectAccountRequest is the relay-facing selection request. Binding fields
// carry the stored string forms and are parsed once at this boundary.
type SelectAccountRequest struct {
	APIKeyID           string `json:"api_key_id" validate:"required"`
	APIKeyName         string `json:"api_key_name"`
	OAuthBinding       string `json:"oauth_binding"`
	ConsoleBinding     string `json:"console_binding"`
	BedrockBinding     string `json:"bedrock_binding"`
	CloudBinding       string `json:"cloud_binding"`
	SessionFingerprint string `json:"session_fingerprint"`
	RequestedModel     string `json:"requested_model"`
	ForcedAccountID    string `json:"forced_account_id"`
	ForcedAccountType  string `json:"forced_account_type"`
}

// SelectGroupRequest selects from one group's membership.
type SelectGroupRequest struct {
	GroupID            string   `json:"group_id" validate:"required"`
	SessionFingerprint string   `json:"session_fingerprint"`
	RequestedModel     string   `json:"requested_model"`
	AllowedTypes       []string `json:"allowed_types"`
	ExcludedIDs        []string `json:"excluded_ids"`
}

// SchedulerHandler exposes the scheduler core over HTTP for the relay layer.
type SchedulerHandler struct {
	scheduler *scheduler.Service
	logger    *zap.Logger
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(svc *scheduler.Service, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: svc,
		logger:    logger,
	}
}

// HandleSelectAccount handles POST /api/v1/scheduler/select
func (h *SchedulerHandler) HandleSelectAccount(w http.ResponseWriter, r *http.Request) {
	var req SelectAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	key, err := buildAPIKeyRecord(&req)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	selection, err := h.scheduler.SelectAccountForAPIKey(r.Context(), scheduler.SelectRequest{
		APIKey:             key,
		SessionFingerprint: req.SessionFingerprint,
		RequestedModel:     req.RequestedModel,
		ForcedAccountID:    req.ForcedAccountID,
		ForcedAccountType:  models.AccountType(req.ForcedAccountType),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, selection)
}

// HandleSelectGroup handles POST /api/v1/scheduler/select-group
func (h *SchedulerHandler) HandleSelectGroup(w http.ResponseWriter, r *http.Request) {
	var req SelectGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	allowedTypes := make([]models.AccountType, 0, len(req.AllowedTypes))
	for _, raw := range req.AllowedTypes {
		accountType := models.AccountType(raw)
		if !accountType.Valid() {
			_ = utils.WriteBadRequest(w, "Unknown account type: "+raw, nil)
			return
		}
		allowedTypes = append(allowedTypes, accountType)
	}

	selection, err := h.scheduler.SelectAccountFromGroup(r.Context(), scheduler.GroupSelectRequest{
		GroupID:            req.GroupID,
		SessionFingerprint: req.SessionFingerprint,
		RequestedModel:     req.RequestedModel,
		AllowedTypes:       allowedTypes,
		ExcludedIDs:        req.ExcludedIDs,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, selection)
}

// HandleClearSession handles DELETE /api/v1/sessions/{fingerprint}
func (h *SchedulerHandler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		_ = utils.WriteBadRequest(w, "Session fingerprint is required", nil)
		return
	}

	if err := h.scheduler.ClearSessionMapping(r.Context(), fingerprint); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// buildAPIKeyRecord parses the stored binding strings into a key record
func buildAPIKeyRecord(req *SelectAccountRequest) (*models.APIKeyRecord, error) {
	key := &models.APIKeyRecord{
		ID:   req.APIKeyID,
		Name: req.APIKeyName,
	}

	var err error
	if key.OAuthBinding, err = models.ParseBinding(req.OAuthBinding); err != nil {
		return nil, err
	}
	if key.ConsoleBinding, err = models.ParseBinding(req.ConsoleBinding); err != nil {
		return nil, err
	}
	if key.BedrockBinding, err = models.ParseBinding(req.BedrockBinding); err != nil {
		return nil, err
	}
	if key.CloudBinding, err = models.ParseBinding(req.CloudBinding); err != nil {
		return nil, err
	}
	return key, nil
}
