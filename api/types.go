package api

import (
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
)

// =============================================================================
// 任务与会话
// =============================================================================

// TaskRequest 提交一个生成任务。
// @Description 任务提交请求结构
type TaskRequest struct {
	// 可选的会话 ID，留空时由服务端生成
	SessionID string `json:"session_id,omitempty" example:"3f1c2a8e-7d1b-4c55-9f0e-2f6f1d2e9a10"`
	// 任务描述
	Description string `json:"description" example:"Write a function that reverses a UTF-8 string" binding:"required"`
	// 目标语言
	Language string `json:"language" example:"go" binding:"required"`
	// 附加约束
	Constraints []string `json:"constraints,omitempty"`
	// 示例
	Examples []string `json:"examples,omitempty"`
	// 质量阈值 0-100，缺省使用服务端配置
	QualityThreshold *float64 `json:"quality_threshold,omitempty" example:"85"`
	// 最大迭代次数 1-50，缺省使用服务端配置
	MaxIterations *int `json:"max_iterations,omitempty" example:"5"`
}

// SessionSummary is a session without artifact bodies.
// @Description 会话摘要
type SessionSummary struct {
	ID                 string        `json:"id"`
	State              session.State `json:"state" example:"ESCALATED"`
	Iteration          int           `json:"iteration"`
	MaxIterations      int           `json:"max_iterations"`
	QualityThreshold   float64       `json:"quality_threshold"`
	ScoreHistory       []float64     `json:"score_history"`
	ArtifactCount      int           `json:"artifact_count"`
	Language           string        `json:"language"`
	Description        string        `json:"description"`
	Generator          string        `json:"generator,omitempty"`
	Critic             string        `json:"critic,omitempty"`
	FailureCause       string        `json:"failure_cause,omitempty"`
	AcceptedArtifactID string        `json:"accepted_artifact_id,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	ElapsedMS          int64         `json:"elapsed_ms"`
}

// NewSessionSummary 从会话构建摘要
func NewSessionSummary(s *session.Session) SessionSummary {
	return SessionSummary{
		ID:                 s.ID,
		State:              s.State,
		Iteration:          s.Iteration,
		MaxIterations:      s.MaxIterations,
		QualityThreshold:   s.QualityThreshold,
		ScoreHistory:       s.ScoreHistory,
		ArtifactCount:      len(s.Artifacts),
		Language:           s.Task.Language,
		Description:        s.Task.Description,
		Generator:          s.Generator,
		Critic:             s.Critic,
		FailureCause:       s.FailureCause,
		AcceptedArtifactID: s.AcceptedArtifactID,
		StartedAt:          s.StartedAt,
		UpdatedAt:          s.UpdatedAt,
		ElapsedMS:          s.ElapsedMS,
	}
}

// SessionListResponse 会话列表
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Limit    int              `json:"limit,omitempty"`
	Offset   int              `json:"offset,omitempty"`
}

// ArtifactListResponse 产物列表
type ArtifactListResponse struct {
	SessionID string             `json:"session_id"`
	Artifacts []session.Artifact `json:"artifacts"`
}

// =============================================================================
// 升级处理
// =============================================================================

// EscalationRequest 对已升级会话作出决定。
// @Description 升级决议请求
type EscalationRequest struct {
	// abort | accept_best_effort | retry_with_constraints | switch_backend | fail
	Action string `json:"action" example:"retry_with_constraints" binding:"required"`
	// retry_with_constraints 追加的约束
	Constraints []string `json:"constraints,omitempty"`
	// switch_backend 使用的已注册后端
	Backend string `json:"backend,omitempty" example:"openai"`
	// switch_backend 替换的角色，默认 generator
	Role string `json:"role,omitempty" example:"generator"`
}

// =============================================================================
// 后端
// =============================================================================

// BackendSlot 单个角色当前使用的后端
type BackendSlot struct {
	Role  string `json:"role" example:"generator"`
	Label string `json:"label" example:"alpha"`
	Name  string `json:"name" example:"ollama"`
	Model string `json:"model,omitempty" example:"qwen2.5-coder"`
}

// BackendsResponse 后端列表
type BackendsResponse struct {
	Slots     []BackendSlot `json:"slots"`
	Available []string      `json:"available"`
}

// SwitchBackendRequest 切换角色后端
type SwitchBackendRequest struct {
	Name string `json:"name" example:"alpha" binding:"required"`
}
