package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/repositories"
	"github.com/upb/llm-relay/services/scheduler"
	"github.com/upb/llm-relay/utils"
	"go.uber.org/zap"
)

// CreateAccountRequest is the admin payload for registering an account.
type CreateAccountRequest struct {
	ID                 string                   `json:"id"`
	AccountType        string                   `json:"account_type" validate:"required,oneof=oauth console bedrock cloud vendor"`
	Name               string                   `json:"name" validate:"required,min=1,max=255"`
	PoolKind           string                   `json:"pool_kind" validate:"omitempty,oneof=shared dedicated"`
	Priority           *int                     `json:"priority" validate:"omitempty,gte=0"`
	SupportedModels    models.ModelList         `json:"supported_models"`
	Subscription       *models.SubscriptionInfo `json:"subscription"`
	MaxConcurrentTasks int                      `json:"max_concurrent_tasks" validate:"gte=0"`
}

// UpdateAccountRequest carries partial account updates. Nil fields keep the
// stored value.
type UpdateAccountRequest struct {
	Name               *string           `json:"name" validate:"omitempty,min=1,max=255"`
	IsActive           *bool             `json:"is_active"`
	Schedulable        *bool             `json:"schedulable"`
	PoolKind           *string           `json:"pool_kind" validate:"omitempty,oneof=shared dedicated"`
	Priority           *int              `json:"priority" validate:"omitempty,gte=0"`
	SupportedModels    *models.ModelList `json:"supported_models"`
	MaxConcurrentTasks *int              `json:"max_concurrent_tasks" validate:"omitempty,gte=0"`
}

// MarkRateLimitedRequest reports an upstream 429 against an account.
type MarkRateLimitedRequest struct {
	SessionFingerprint string `json:"session_fingerprint"`

	// ResetAt is the upstream-provided reset instant, RFC3339. Empty means
	// the default exclusion window applies.
	ResetAt string `json:"reset_at"`
}

// MarkUnavailableRequest reports a transient upstream failure.
type MarkUnavailableRequest struct {
	SessionFingerprint string `json:"session_fingerprint"`
	StatusCode         int    `json:"status_code" validate:"gte=0"`
	TTLSeconds         int    `json:"ttl_seconds" validate:"gte=0"`
}

// MarkCredentialRequest reports a credential-level failure (401/403 or an
// upstream account block).
type MarkCredentialRequest struct {
	SessionFingerprint string `json:"session_fingerprint"`
}

// AccountHandler exposes account administration and relay feedback hooks.
type AccountHandler struct {
	repo      repositories.AccountRepository
	scheduler *scheduler.Service
	logger    *zap.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(repo repositories.AccountRepository, svc *scheduler.Service, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		repo:      repo,
		scheduler: svc,
		logger:    logger,
	}
}

// HandleCreateAccount handles POST /api/v1/accounts
func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	account := models.NewAccount(models.AccountType(req.AccountType), req.Name)
	if req.ID != "" {
		account.ID = req.ID
	}
	if req.PoolKind != "" {
		account.PoolKind = models.PoolKind(req.PoolKind)
	}
	if req.Priority != nil {
		account.Priority = *req.Priority
	}
	account.SupportedModels = req.SupportedModels
	account.Subscription = req.Subscription
	account.MaxConcurrentTasks = req.MaxConcurrentTasks

	if err := h.repo.Create(r.Context(), account); err != nil {
		h.logger.Error("failed to create account", zap.Error(err), zap.String("account_id", account.ID))
		_ = utils.WriteInternalServerError(w, "Failed to create account")
		return
	}

	h.logger.Info("account created",
		zap.String("account_id", account.ID),
		zap.String("account_type", string(account.Type)))
	_ = utils.WriteCreated(w, account)
}

// HandleGetAccount handles GET /api/v1/accounts/{id}
func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Account not found")
			return
		}
		h.logger.Error("failed to load account", zap.Error(err), zap.String("account_id", id))
		_ = utils.WriteInternalServerError(w, "Failed to load account")
		return
	}

	_ = utils.WriteOK(w, account)
}

// HandleListAccounts handles GET /api/v1/accounts?type=console
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accountType := models.AccountType(r.URL.Query().Get("type"))
	if !accountType.Valid() {
		_ = utils.WriteBadRequest(w, "Query parameter 'type' must be a known account type", nil)
		return
	}

	accounts, err := h.repo.ListByType(r.Context(), accountType)
	if err != nil {
		h.logger.Error("failed to list accounts", zap.Error(err), zap.String("account_type", string(accountType)))
		_ = utils.WriteInternalServerError(w, "Failed to list accounts")
		return
	}

	_ = utils.WriteOK(w, accounts)
}

// HandleUpdateAccount handles PUT /api/v1/accounts/{id}
func (h *AccountHandler) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	account, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Account not found")
			return
		}
		h.logger.Error("failed to load account", zap.Error(err), zap.String("account_id", id))
		_ = utils.WriteInternalServerError(w, "Failed to load account")
		return
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if req.Schedulable != nil {
		account.Schedulable = *req.Schedulable
	}
	if req.PoolKind != nil {
		account.PoolKind = models.PoolKind(*req.PoolKind)
	}
	if req.Priority != nil {
		account.Priority = *req.Priority
	}
	if req.SupportedModels != nil {
		account.SupportedModels = *req.SupportedModels
	}
	if req.MaxConcurrentTasks != nil {
		account.MaxConcurrentTasks = *req.MaxConcurrentTasks
	}
	account.UpdatedAt = time.Now()

	if err := h.repo.Update(r.Context(), account); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Account not found")
			return
		}
		h.logger.Error("failed to update account", zap.Error(err), zap.String("account_id", id))
		_ = utils.WriteInternalServerError(w, "Failed to update account")
		return
	}

	_ = utils.WriteOK(w, account)
}

// HandleDeleteAccount handles DELETE /api/v1/accounts/{id}
func (h *AccountHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Account not found")
			return
		}
		h.logger.Error("failed to delete account", zap.Error(err), zap.String("account_id", id))
		_ = utils.WriteInternalServerError(w, "Failed to delete account")
		return
	}

	h.logger.Info("account deleted", zap.String("account_id", id))
	utils.WriteNoContent(w)
}

// HandleMarkRateLimited handles POST /api/v1/accounts/{type}/{id}/rate-limited
func (h *AccountHandler) HandleMarkRateLimited(w http.ResponseWriter, r *http.Request) {
	accountType, id, ok := accountParams(w, r)
	if !ok {
		return
	}

	var req MarkRateLimitedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	var resetAt *time.Time
	if req.ResetAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ResetAt)
		if err != nil {
			_ = utils.WriteBadRequest(w, "reset_at must be an RFC3339 timestamp", nil)
			return
		}
		resetAt = &parsed
	}

	if err := h.scheduler.MarkAccountRateLimited(r.Context(), id, accountType, req.SessionFingerprint, resetAt); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("account marked rate limited",
		zap.String("account_id", id),
		zap.String("account_type", string(accountType)))
	utils.WriteNoContent(w)
}

// HandleMarkUnavailable handles POST /api/v1/accounts/{type}/{id}/unavailable
func (h *AccountHandler) HandleMarkUnavailable(w http.ResponseWriter, r *http.Request) {
	accountType, id, ok := accountParams(w, r)
	if !ok {
		return
	}

	var req MarkUnavailableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.scheduler.MarkAccountTemporarilyUnavailable(r.Context(), id, accountType, req.SessionFingerprint, req.StatusCode, ttl); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleMarkUnauthorized handles POST /api/v1/accounts/{type}/{id}/unauthorized
func (h *AccountHandler) HandleMarkUnauthorized(w http.ResponseWriter, r *http.Request) {
	accountType, id, ok := accountParams(w, r)
	if !ok {
		return
	}

	var req MarkCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := h.scheduler.MarkAccountUnauthorized(r.Context(), id, accountType, req.SessionFingerprint); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Warn("account marked unauthorized",
		zap.String("account_id", id),
		zap.String("account_type", string(accountType)))
	utils.WriteNoContent(w)
}

// HandleMarkBlocked handles POST /api/v1/accounts/{type}/{id}/blocked
func (h *AccountHandler) HandleMarkBlocked(w http.ResponseWriter, r *http.Request) {
	accountType, id, ok := accountParams(w, r)
	if !ok {
		return
	}

	var req MarkCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := h.scheduler.MarkAccountBlocked(r.Context(), id, accountType, req.SessionFingerprint); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Warn("account marked blocked",
		zap.String("account_id", id),
		zap.String("account_type", string(accountType)))
	utils.WriteNoContent(w)
}

// HandleMarkUsed handles POST /api/v1/accounts/{type}/{id}/used
func (h *AccountHandler) HandleMarkUsed(w http.ResponseWriter, r *http.Request) {
	accountType, id, ok := accountParams(w, r)
	if !ok {
		return
	}

	if err := h.scheduler.MarkAccountUsed(r.Context(), id, accountType); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// accountParams extracts and validates the {type}/{id} route parameters.
func accountParams(w http.ResponseWriter, r *http.Request) (models.AccountType, string, bool) {
	accountType := models.AccountType(chi.URLParam(r, "type"))
	if !accountType.Valid() {
		_ = utils.WriteBadRequest(w, "Unknown account type: "+string(accountType), nil)
		return "", "", false
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		_ = utils.WriteBadRequest(w, "Account id is required", nil)
		return "", "", false
	}
	return accountType, id, true
}
