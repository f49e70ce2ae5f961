package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/repositories"
	"github.com/upb/llm-relay/utils"
	"go.uber.org/zap"
)

// CreateGroupRequest is the admin payload for creating an account group.
type CreateGroupRequest struct {
	ID       string   `json:"id"`
	Name     string   `json:"name" validate:"required,min=1,max=255"`
	Platform string   `json:"platform" validate:"required,oneof=oauth console bedrock cloud vendor"`
	Members  []string `json:"members"`
}

// SetGroupMembersRequest replaces a group's ordered membership.
type SetGroupMembersRequest struct {
	Members []string `json:"members" validate:"required"`
}

// GroupHandler exposes account-group administration.
type GroupHandler struct {
	repo   repositories.GroupRepository
	logger *zap.Logger
}

// NewGroupHandler creates a new GroupHandler
func NewGroupHandler(repo repositories.GroupRepository, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		repo:   repo,
		logger: logger,
	}
}

// HandleCreateGroup handles POST /api/v1/groups
func (h *GroupHandler) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	group := models.NewAccountGroup(req.Name, req.Platform)
	group.Members = req.Members
	if req.ID != "" {
		group.ID = req.ID
	}

	if err := h.repo.Create(r.Context(), group); err != nil {
		h.logger.Error("failed to create group", zap.Error(err), zap.String("group_id", group.ID))
		_ = utils.WriteInternalServerError(w, "Failed to create group")
		return
	}

	h.logger.Info("group created",
		zap.String("group_id", group.ID),
		zap.String("platform", group.Platform),
		zap.Int("members", len(group.Members)))
	_ = utils.WriteCreated(w, group)
}

// HandleGetGroup handles GET /api/v1/groups/{id}
func (h *GroupHandler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	group, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group not found")
			return
		}
		h.logger.Error("failed to load group", zap.Error(err), zap.String("group_id", id))
		_ = utils.WriteInternalServerError(w, "Failed to load group")
		return
	}

	_ = utils.WriteOK(w, group)
}

// HandleListGroups handles GET /api/v1/groups
func (h *GroupHandler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list groups", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to list groups")
		return
	}

	_ = utils.WriteOK(w, groups)
}

// HandleSetGroupMembers handles PUT /api/v1/groups/{id}/members
func (h *GroupHandler) HandleSetGroupMembers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SetGroupMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.repo.SetMembers(r.Context(), id, req.Members); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group not found")
			return
		}
		h.logger.Error("failed to set group members", zap.Error(err), zap.String("group_id", id))
		_ = utils.WriteInternalServerError(w, "Failed to set group members")
		return
	}

	h.logger.Info("group members replaced",
		zap.String("group_id", id),
		zap.Int("members", len(req.Members)))
	utils.WriteNoContent(w)
}

// HandleDeleteGroup handles DELETE /api/v1/groups/{id}
func (h *GroupHandler) HandleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group not found")
			return
		}
		h.logger.Error("failed to delete group", zap.Error(err), zap.String("group_id", id))
		_ = utils.WriteInternalServerError(w, "Failed to delete group")
		return
	}

	h.logger.Info("group deleted", zap.String("group_id", id))
	utils.WriteNoContent(w)
}
