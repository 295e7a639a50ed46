package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/o3willard-AI/alcs-sub001/api"
	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/orchestrator"
	"github.com/o3willard-AI/alcs-sub001/persistence"
	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/o3willard-AI/alcs-sub001/types"
	"go.uber.org/zap"
)

// SessionService is the part of the orchestrator the session endpoints use.
type SessionService interface {
	StartTask(ctx context.Context, req orchestrator.TaskRequest) (*orchestrator.TaskResult, error)
	StartTaskAsync(ctx context.Context, req orchestrator.TaskRequest, done func(*orchestrator.TaskResult, error)) (*orchestrator.TaskResult, error)
	ResolveEscalation(ctx context.Context, sessionID string, d orchestrator.Resolution) (*orchestrator.TaskResult, error)
	Acknowledge(ctx context.Context, sessionID string) (*orchestrator.TaskResult, error)
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	ListSessions(ctx context.Context, filter persistence.ListFilter) ([]*session.Session, error)
	ListArtifacts(ctx context.Context, sessionID string, kind session.ArtifactKind) ([]session.Artifact, error)
	GetArtifact(ctx context.Context, sessionID, artifactID string) (session.Artifact, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// =============================================================================
// 🧭 会话 Handler
// =============================================================================

// SessionHandler serves tasks, sessions, artifacts and escalation
// resolution. Mutating requests on one session are serialised.
type SessionHandler struct {
	service  SessionService
	locks    *SessionLocks
	lockWait time.Duration
	logger   *zap.Logger
}

// SessionHandlerOption 会话处理器选项
type SessionHandlerOption func(*SessionHandler)

// WithLockWait bounds how long a request queues behind another request on
// the same session before failing with SESSION_BUSY. Zero waits until the
// request context ends.
func WithLockWait(d time.Duration) SessionHandlerOption {
	return func(h *SessionHandler) { h.lockWait = d }
}

// WithSessionLocks shares a lock table, e.g. with another handler.
func WithSessionLocks(l *SessionLocks) SessionHandlerOption {
	return func(h *SessionHandler) { h.locks = l }
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(service SessionService, logger *zap.Logger, opts ...SessionHandlerOption) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SessionHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "sessions")),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.locks == nil {
		h.locks = NewSessionLocks()
	}
	return h
}

// lock waits for the session's lock under the request context.
func (h *SessionHandler) lock(r *http.Request, id string) (func(), error) {
	ctx := r.Context()
	if h.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.lockWait)
		defer cancel()
	}
	return h.locks.Acquire(ctx, id)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleStartTask 处理 POST /v1/tasks
// @Summary 提交任务
// @Description 同步运行生成/评审循环直到收敛、升级或失败；async=true 时立即返回 202
// @Tags 任务
// @Accept json
// @Produce json
// @Param request body api.TaskRequest true "任务"
// @Param async query bool false "后台运行"
// @Success 200 {object} Response "会话结果"
// @Success 202 {object} Response "已接受"
// @Failure 400 {object} Response "参数错误"
// @Failure 409 {object} Response "会话已存在或忙"
// @Router /v1/tasks [post]
func (h *SessionHandler) HandleStartTask(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.TaskRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	req := orchestrator.TaskRequest{
		SessionID:        strings.TrimSpace(body.SessionID),
		Description:      body.Description,
		Language:         body.Language,
		Constraints:      body.Constraints,
		Examples:         body.Examples,
		QualityThreshold: body.QualityThreshold,
		MaxIterations:    body.MaxIterations,
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	release, err := h.lock(r, req.SessionID)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		// 后台运行期间保持会话锁
		res, err := h.service.StartTaskAsync(r.Context(), req, func(*orchestrator.TaskResult, error) { release() })
		if err != nil {
			release()
			WriteErr(w, r, err, h.logger)
			return
		}
		WriteStatus(w, r, http.StatusAccepted, res)
		return
	}

	defer release()
	res, err := h.service.StartTask(r.Context(), req)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// HandleListSessions 处理 GET /v1/sessions?state=ESCALATED,FAILED&limit=&offset=
// @Summary 会话列表
// @Tags 会话
// @Produce json
// @Success 200 {object} Response "会话摘要"
// @Router /v1/sessions [get]
func (h *SessionHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	sessions, err := h.service.ListSessions(r.Context(), filter)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	out := api.SessionListResponse{
		Sessions: make([]api.SessionSummary, 0, len(sessions)),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, api.NewSessionSummary(s))
	}
	WriteSuccess(w, r, out)
}

func parseListFilter(r *http.Request) (persistence.ListFilter, error) {
	q := r.URL.Query()
	filter := persistence.ListFilter{Limit: defaultListLimit}

	for _, raw := range q["state"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			st := session.State(part)
			if !st.Valid() {
				return filter, types.NewValidationError("unknown state %q", part)
			}
			filter.States = append(filter.States, st)
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return filter, types.NewValidationError("limit must be within [1, %d]", maxListLimit)
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, types.NewValidationError("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

// HandleGetSession 处理 GET /v1/sessions/{id}
// @Summary 会话详情
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response "会话"
// @Failure 404 {object} Response "会话不存在"
// @Router /v1/sessions/{id} [get]
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, sess)
}

// HandleDeleteSession 处理 DELETE /v1/sessions/{id}
// @Summary 删除会话
// @Description 只有 IDLE 会话可以删除
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 200 {object} Response "已删除"
// @Failure 409 {object} Response "会话未处于 IDLE"
// @Router /v1/sessions/{id} [delete]
func (h *SessionHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	release, err := h.lock(r, id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	defer release()

	if err := h.service.DeleteSession(r.Context(), id); err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]string{"session_id": id})
}

// HandleListArtifacts 处理 GET /v1/sessions/{id}/artifacts?kind=code
// @Summary 产物列表
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Param kind query string false "code | review | test_suite"
// @Success 200 {object} Response "产物"
// @Router /v1/sessions/{id}/artifacts [get]
func (h *SessionHandler) HandleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	kind := session.ArtifactKind(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind"))))
	switch kind {
	case "", session.KindCode, session.KindReview, session.KindTestSuite:
	default:
		WriteErr(w, r, types.NewValidationError("unknown artifact kind %q", kind), h.logger)
		return
	}

	artifacts, err := h.service.ListArtifacts(r.Context(), id, kind)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.ArtifactListResponse{SessionID: id, Artifacts: artifacts})
}

// HandleGetArtifact 处理 GET /v1/sessions/{id}/artifacts/{artifactID}
// @Summary 单个产物
// @Tags 会话
// @Produce json
// @Success 200 {object} Response "产物"
// @Failure 404 {object} Response "产物不存在"
// @Router /v1/sessions/{id}/artifacts/{artifactID} [get]
func (h *SessionHandler) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.GetArtifact(r.Context(), r.PathValue("id"), r.PathValue("artifactID"))
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, a)
}

// HandleResolveEscalation 处理 POST /v1/sessions/{id}/escalation
// @Summary 升级决议
// @Description 对 ESCALATED 会话执行 abort、accept_best_effort、retry_with_constraints、switch_backend 或 fail
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.EscalationRequest true "决议"
// @Success 200 {object} Response "会话结果"
// @Failure 409 {object} Response "会话未处于 ESCALATED"
// @Failure 502 {object} Response "新后端健康检查失败"
// @Router /v1/sessions/{id}/escalation [post]
func (h *SessionHandler) HandleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.EscalationRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	action := session.Action(strings.ToLower(strings.TrimSpace(body.Action)))
	if !action.Valid() {
		WriteErr(w, r, types.NewValidationError("unknown action %q", body.Action), h.logger)
		return
	}
	role := llm.BackendRole(strings.ToLower(strings.TrimSpace(body.Role)))
	if role != "" && !role.Valid() {
		WriteErr(w, r, types.NewValidationError("unknown backend role %q", body.Role), h.logger)
		return
	}

	id := r.PathValue("id")
	release, err := h.lock(r, id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	defer release()

	res, err := h.service.ResolveEscalation(r.Context(), id, orchestrator.Resolution{
		Action:      action,
		Constraints: body.Constraints,
		Backend:     strings.TrimSpace(body.Backend),
		Role:        role,
	})
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// HandleAcknowledge 处理 POST /v1/sessions/{id}/ack
// @Summary 确认结果
// @Description 将 CONVERGED 或 FAILED 会话置回 IDLE
// @Tags 会话
// @Produce json
// @Success 200 {object} Response "会话结果"
// @Failure 404 {object} Response "没有待确认的结果"
// @Router /v1/sessions/{id}/ack [post]
func (h *SessionHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	release, err := h.lock(r, id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	defer release()

	res, err := h.service.Acknowledge(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}
