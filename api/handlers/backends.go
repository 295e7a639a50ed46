package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/o3willard-AI/alcs-sub001/api"
	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/orchestrator"
	"github.com/o3willard-AI/alcs-sub001/types"
	"go.uber.org/zap"
)

// BackendService is the part of the orchestrator the backend endpoints use.
type BackendService interface {
	Backends() []orchestrator.BackendInfo
	AvailableBackends() []string
	SwitchBackend(ctx context.Context, role llm.BackendRole, name string) error
}

// BackendHandler 后端查询与切换
type BackendHandler struct {
	service BackendService
	logger  *zap.Logger
}

// NewBackendHandler 创建后端处理器
func NewBackendHandler(service BackendService, logger *zap.Logger) *BackendHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendHandler{service: service, logger: logger.With(zap.String("handler", "backends"))}
}

// HandleListBackends 处理 GET /v1/backends
// @Summary 后端列表
// @Description 返回每个角色当前的后端与可切换的已注册后端
// @Tags 后端
// @Produce json
// @Success 200 {object} Response "后端"
// @Router /v1/backends [get]
func (h *BackendHandler) HandleListBackends(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.snapshot())
}

// HandleSwitchBackend 处理 PUT /v1/backends/{role}
// @Summary 切换后端
// @Description 新后端先经过一次 max_tokens=1 的探测，失败时保留当前后端
// @Tags 后端
// @Accept json
// @Produce json
// @Param role path string true "generator | critic"
// @Param request body api.SwitchBackendRequest true "后端名"
// @Success 200 {object} Response "切换后的后端"
// @Failure 404 {object} Response "后端未注册"
// @Failure 502 {object} Response "健康检查失败"
// @Router /v1/backends/{role} [put]
func (h *BackendHandler) HandleSwitchBackend(w http.ResponseWriter, r *http.Request) {
	role := llm.BackendRole(strings.ToLower(r.PathValue("role")))
	if !role.Valid() {
		WriteErr(w, r, types.NewValidationError("unknown backend role %q", r.PathValue("role")), h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.SwitchBackendRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	if err := h.service.SwitchBackend(r.Context(), role, strings.TrimSpace(body.Name)); err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	h.logger.Info("backend switched", zap.String("role", string(role)), zap.String("name", body.Name))
	WriteSuccess(w, r, h.snapshot())
}

func (h *BackendHandler) snapshot() api.BackendsResponse {
	infos := h.service.Backends()
	out := api.BackendsResponse{
		Slots:     make([]api.BackendSlot, 0, len(infos)),
		Available: h.service.AvailableBackends(),
	}
	for _, b := range infos {
		out.Slots = append(out.Slots, api.BackendSlot{
			Role:  string(b.Role),
			Label: b.Label,
			Name:  b.Name,
			Model: b.Model,
		})
	}
	if out.Available == nil {
		out.Available = []string{}
	}
	return out
}
