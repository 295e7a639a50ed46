package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 就绪状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readyTimeout = 5 * time.Second

// HealthHandler serves liveness, readiness and version probes.
//
// Readiness runs every registered check in parallel. A failing check that
// reports itself advisory (a generation backend, which an operator can
// replace at runtime) only degrades the service; any other failure makes
// it unready.
type HealthHandler struct {
	logger *zap.Logger

	mu     sync.RWMutex
	checks []HealthCheck
}

// HealthCheck is one dependency probe.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// Advisory marks checks whose failure should not take the service out of rotation.
type Advisory interface {
	Advisory() bool
}

// Describer lets a check attach static detail (label, model) to its result.
type Describer interface {
	Describe() map[string]string
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string            `json:"status"` // "pass", "fail", "warn"
	Message  string            `json:"message,omitempty"`
	Latency  string            `json:"latency,omitempty"`
	Advisory bool              `json:"advisory,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger.With(zap.String("component", "health"))}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

func (h *HealthHandler) snapshot() []HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthCheck(nil), h.checks...)
}

// HandleHealth 处理 /health 与 /healthz（活跃度，不检查依赖）
// @Summary 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "进程存活"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now()})
}

// HandleReady 处理 /ready 与 /readyz
// @Summary 就绪探针
// @Description Probes the session store and both backends. Backend failures degrade, store failures fail.
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "healthy 或 degraded"
// @Failure 503 {object} HealthStatus "unhealthy"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Evaluate runs all checks concurrently under a shared deadline and folds
// the results into one status.
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	checks := h.snapshot()
	results := make([]CheckResult, len(checks))

	// 检查彼此独立，单个失败不取消其他检查，所以不用 WithContext
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		res := results[i]
		status.Checks[check.Name()] = res
		switch {
		case res.Status == "fail":
			status.Status = StatusUnhealthy
		case res.Status == "warn" && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: "pass", Latency: latency.String()}
	if a, ok := check.(Advisory); ok {
		res.Advisory = a.Advisory()
	}
	if d, ok := check.(Describer); ok {
		res.Detail = d.Describe()
	}
	if err == nil {
		return res
	}

	res.Message = err.Error()
	res.Status = "fail"
	if res.Advisory {
		res.Status = "warn"
	}
	h.logger.Warn("readiness check failed",
		zap.String("check", check.Name()),
		zap.Bool("advisory", res.Advisory),
		zap.Duration("latency", latency),
		zap.Error(err),
	)
	return res
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// PingCheck wraps a ping function, e.g. the session store's Ping. Its
// failure always makes the service unready.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建基于 ping 函数的健康检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string                    { return c.name }
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// BackendHealthCheck probes the backend installed in a role slot. It is
// advisory: sessions keep working through escalation and a backend swap.
type BackendHealthCheck struct {
	slot *llm.Switchable
}

// NewBackendHealthCheck 创建后端健康检查
func NewBackendHealthCheck(slot *llm.Switchable) *BackendHealthCheck {
	return &BackendHealthCheck{slot: slot}
}

func (c *BackendHealthCheck) Name() string   { return string(c.slot.Role()) }
func (c *BackendHealthCheck) Advisory() bool { return true }

func (c *BackendHealthCheck) Describe() map[string]string {
	detail := map[string]string{"label": c.slot.Label()}
	if m := c.slot.Model(); m != "" {
		detail["model"] = m
	}
	if n := c.slot.Name(); n != "" {
		detail["provider"] = n
	}
	return detail
}

func (c *BackendHealthCheck) Check(ctx context.Context) error {
	status, err := c.slot.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if status != nil && !status.Healthy {
		if status.Message != "" {
			return fmt.Errorf("%s backend %q unhealthy: %s", c.slot.Role(), c.slot.Label(), status.Message)
		}
		return fmt.Errorf("%s backend %q unhealthy", c.slot.Role(), c.slot.Label())
	}
	return nil
}
