package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/o3willard-AI/alcs-sub001/types"
	"go.uber.org/zap"
)

// BackendRole names the job a backend performs in the loop.
type BackendRole string

const (
	RoleGenerator BackendRole = "generator"
	RoleCritic    BackendRole = "critic"
)

// Valid reports whether r is a known role.
func (r BackendRole) Valid() bool {
	return r == RoleGenerator || r == RoleCritic
}

// probeTimeout bounds the synchronous health probe run before a swap.
const probeTimeout = 30 * time.Second

// Switchable is the live backend for one role. It implements Provider by
// delegating to whatever backend is installed, so callers never hold a
// stale reference across a swap.
type Switchable struct {
	role BackendRole

	mu      sync.RWMutex
	current Provider
	label   string

	logger *zap.Logger
}

// NewSwitchable installs initial as the backend for role.
func NewSwitchable(role BackendRole, label string, initial Provider, logger *zap.Logger) *Switchable {
	if logger == nil {
		logger = zap.NewNop()
	}
	if label == "" && initial != nil {
		label = initial.Name()
	}
	return &Switchable{
		role:    role,
		current: initial,
		label:   label,
		logger:  logger.With(zap.String("component", "backend"), zap.String("role", string(role))),
	}
}

// Role returns the role this slot serves.
func (s *Switchable) Role() BackendRole { return s.role }

// Current returns the installed backend and its label.
func (s *Switchable) Current() (Provider, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.label
}

// Label returns the label of the installed backend.
func (s *Switchable) Label() string {
	_, label := s.Current()
	return label
}

// Model returns the installed backend's model when it reports one.
func (s *Switchable) Model() string {
	p, _ := s.Current()
	if m, ok := p.(ModelReporter); ok {
		return m.Model()
	}
	return ""
}

// Completion implements Provider.
func (s *Switchable) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	p, _ := s.Current()
	if p == nil {
		return nil, &Error{Code: ErrProviderUnavailable, Message: fmt.Sprintf("no %s backend installed", s.role)}
	}
	return p.Completion(ctx, req)
}

// HealthCheck implements Provider.
func (s *Switchable) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	p, _ := s.Current()
	if p == nil {
		return &HealthStatus{Healthy: false, Message: "no backend installed"}, fmt.Errorf("no %s backend installed", s.role)
	}
	return p.HealthCheck(ctx)
}

// Name implements Provider.
func (s *Switchable) Name() string {
	p, _ := s.Current()
	if p == nil {
		return ""
	}
	return p.Name()
}

// Swap replaces the installed backend with next after a minimal generation
// call succeeds against it. The previous backend stays installed when the
// probe fails.
func (s *Switchable) Swap(ctx context.Context, label string, next Provider) error {
	if next == nil {
		return types.NewValidationError("backend for %s is nil", s.role)
	}
	if label == "" {
		label = next.Name()
	}

	if err := Probe(ctx, next); err != nil {
		s.logger.Warn("backend probe failed, keeping current backend",
			zap.String("candidate", label),
			zap.Error(err),
		)
		return types.NewError(types.ErrBackendUnhealthy,
			fmt.Sprintf("%s backend %q failed health probe", s.role, label)).
			WithHTTPStatus(http.StatusBadGateway).
			WithCause(err)
	}

	s.mu.Lock()
	previous := s.label
	s.current = next
	s.label = label
	s.mu.Unlock()

	s.logger.Info("backend switched",
		zap.String("from", previous),
		zap.String("to", label),
	)
	return nil
}

// Probe runs one minimal generation call (max_tokens=1) against p.
func Probe(ctx context.Context, p Provider) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := p.Completion(ctx, &ChatRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}
