// Package orchestrator drives sessions through the generate, review and
// revise loop until the code converges, the loop escalates to a human or a
// backend gives up.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/o3willard-AI/alcs-sub001/internal/metrics"
	"github.com/o3willard-AI/alcs-sub001/internal/telemetry"
	"github.com/o3willard-AI/alcs-sub001/internal/pool"
	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/llm/retry"
	"github.com/o3willard-AI/alcs-sub001/llm/tokenizer"
	"github.com/o3willard-AI/alcs-sub001/persistence"
	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/o3willard-AI/alcs-sub001/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CauseTimeout is recorded when a session outlives the task timeout.
const CauseTimeout = "task timeout exceeded"

// Config holds the loop parameters.
type Config struct {
	DefaultQualityThreshold float64
	DefaultMaxIterations    int
	// TaskTimeout bounds one run of the loop. Zero disables the check.
	TaskTimeout time.Duration
	// RetryExtraIterations is added to the cap by retry_with_constraints.
	RetryExtraIterations int

	GeneratorTemperature float32
	GeneratorMaxTokens   int
	CriticTemperature    float32
	CriticMaxTokens      int
}

// DefaultConfig returns the stock loop parameters.
func DefaultConfig() Config {
	return Config{
		DefaultQualityThreshold: 85,
		DefaultMaxIterations:    5,
		TaskTimeout:             30 * time.Minute,
		RetryExtraIterations:    3,
		GeneratorTemperature:    0.2,
		GeneratorMaxTokens:      4096,
		CriticTemperature:       0.1,
		CriticMaxTokens:         2048,
	}
}

// TaskRequest is what a caller submits.
type TaskRequest struct {
	// SessionID is optional; one is generated when empty.
	SessionID        string   `json:"session_id,omitempty"`
	Description      string   `json:"description"`
	Language         string   `json:"language"`
	Constraints      []string `json:"constraints,omitempty"`
	Examples         []string `json:"examples,omitempty"`
	QualityThreshold *float64 `json:"quality_threshold,omitempty"`
	MaxIterations    *int     `json:"max_iterations,omitempty"`
}

// TaskResult summarises a session after a call returns.
type TaskResult struct {
	SessionID          string                     `json:"session_id"`
	State              session.State              `json:"state"`
	Iteration          int                        `json:"iteration"`
	ScoreHistory       []float64                  `json:"score_history"`
	FirstArtifact      *session.Artifact          `json:"first_artifact,omitempty"`
	LatestArtifact     *session.Artifact          `json:"latest_artifact,omitempty"`
	Escalation         *session.EscalationMessage `json:"escalation,omitempty"`
	AcceptedArtifactID string                     `json:"accepted_artifact_id,omitempty"`
	FailureCause       string                     `json:"failure_cause,omitempty"`
}

// Resolution is an external ruling on an escalated session.
type Resolution struct {
	Action      session.Action `json:"action"`
	Constraints []string       `json:"constraints,omitempty"`
	// Backend names a registered backend for switch_backend.
	Backend string `json:"backend,omitempty"`
	// Role selects which slot switch_backend replaces. Defaults to generator.
	Role llm.BackendRole `json:"role,omitempty"`
}

// BackendInfo describes the backend installed in one slot.
type BackendInfo struct {
	Role  llm.BackendRole `json:"role"`
	Label string          `json:"label"`
	Name  string          `json:"name"`
	Model string          `json:"model,omitempty"`
}

// Orchestrator owns the session state machine. It holds no session data
// between calls; the store is the source of truth.
type Orchestrator struct {
	store     persistence.Store
	generator *llm.Switchable
	critic    *llm.Switchable
	backends  *llm.ProviderRegistry
	admission *pool.AdmissionController
	retryer   retry.Retryer
	cfg       Config

	events    *EventBus
	metrics   *metrics.Collector
	otelCalls *telemetry.BackendInstruments
	tracer    trace.Tracer
	tokenizer tokenizer.Tokenizer
	now       func() time.Time
	logger    *zap.Logger

	running sync.WaitGroup
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithEventBus publishes session events on bus.
func WithEventBus(bus *EventBus) Option { return func(o *Orchestrator) { o.events = bus } }

// WithMetrics records Prometheus metrics.
func WithMetrics(c *metrics.Collector) Option { return func(o *Orchestrator) { o.metrics = c } }

// WithInstruments also exports backend call metrics over OTLP.
func WithInstruments(b *telemetry.BackendInstruments) Option {
	return func(o *Orchestrator) { o.otelCalls = b }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithTokenizer sets the tokenizer used when a backend reports no usage.
func WithTokenizer(t tokenizer.Tokenizer) Option { return func(o *Orchestrator) { o.tokenizer = t } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithBackendRegistry supplies the backends switch_backend may choose from.
func WithBackendRegistry(r *llm.ProviderRegistry) Option {
	return func(o *Orchestrator) { o.backends = r }
}

// New wires an orchestrator. Every collaborator is injected.
func New(store persistence.Store, generator, critic *llm.Switchable, admission *pool.AdmissionController,
	retryer retry.Retryer, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		generator: generator,
		critic:    critic,
		admission: admission,
		retryer:   retryer,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/o3willard-AI/alcs-sub001/orchestrator")
	}
	if o.tokenizer == nil {
		o.tokenizer = tokenizer.Default()
	}
	if o.backends == nil {
		o.backends = llm.NewProviderRegistry()
	}
	if o.cfg.DefaultMaxIterations <= 0 {
		o.cfg.DefaultMaxIterations = DefaultConfig().DefaultMaxIterations
	}
	return o
}

// Close waits for background runs started by StartTaskAsync.
func (o *Orchestrator) Close() {
	o.running.Wait()
}

// Ping checks the store.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}

// =============================================================================
// Task entry points
// =============================================================================

// StartTask runs a task until the session converges, escalates or fails.
// Backend failures are reported through the session state, not the error.
func (o *Orchestrator) StartTask(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	sess, err := o.createSession(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.runFromStart(context.WithoutCancel(ctx), sess)
}

// StartTaskAsync creates the session and runs the loop in the background.
// done, if not nil, receives the final result.
func (o *Orchestrator) StartTaskAsync(ctx context.Context, req TaskRequest, done func(*TaskResult, error)) (*TaskResult, error) {
	sess, err := o.createSession(ctx, req)
	if err != nil {
		return nil, err
	}
	initial := o.resultFor(sess)

	o.running.Add(1)
	go func(runCtx context.Context) {
		defer o.running.Done()
		res, err := o.runFromStart(runCtx, sess)
		if err != nil {
			o.logger.Error("background session run failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
		if done != nil {
			done(res, err)
		}
	}(context.WithoutCancel(ctx))

	return initial, nil
}

func (o *Orchestrator) createSession(ctx context.Context, req TaskRequest) (*session.Session, error) {
	task, threshold, maxIter, err := o.validateTask(req)
	if err != nil {
		return nil, err
	}

	sess, err := o.store.Create(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			return nil, types.NewError(types.ErrSessionBusy, fmt.Sprintf("session %q already exists", req.SessionID)).
				WithHTTPStatus(http.StatusConflict)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := o.now()
	sess.Task = task
	sess.QualityThreshold = threshold
	sess.MaxIterations = maxIter
	sess.StartedAt = now
	sess.Generator = o.generator.Label()
	sess.Critic = o.critic.Label()
	sess.Touch(now)
	if err := o.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	o.metrics.RecordSessionStarted()
	o.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("language", task.Language),
		zap.Float64("threshold", threshold),
		zap.Int("max_iterations", maxIter),
	)
	return sess, nil
}

// Languages accepted for a task.
var supportedLanguages = map[string]bool{
	"go": true, "python": true, "typescript": true, "javascript": true, "java": true,
	"rust": true, "c": true, "cpp": true, "csharp": true, "ruby": true,
}

const maxIterationsLimit = 50

func (o *Orchestrator) validateTask(req TaskRequest) (session.TaskSpec, float64, int, error) {
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return session.TaskSpec{}, 0, 0, types.NewValidationError("description is required")
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		return session.TaskSpec{}, 0, 0, types.NewValidationError("language is required")
	}
	if !supportedLanguages[lang] {
		return session.TaskSpec{}, 0, 0, types.NewValidationError("unsupported language %q", req.Language)
	}

	threshold := o.cfg.DefaultQualityThreshold
	if req.QualityThreshold != nil {
		threshold = *req.QualityThreshold
	}
	if threshold < 0 || threshold > 100 {
		return session.TaskSpec{}, 0, 0, types.NewValidationError("quality_threshold must be within [0, 100], got %v", threshold)
	}

	maxIter := o.cfg.DefaultMaxIterations
	if req.MaxIterations != nil {
		maxIter = *req.MaxIterations
	}
	if maxIter < 1 || maxIter > maxIterationsLimit {
		return session.TaskSpec{}, 0, 0, types.NewValidationError("max_iterations must be within [1, %d], got %d", maxIterationsLimit, maxIter)
	}

	return session.TaskSpec{
		Description: desc,
		Language:    lang,
		Constraints: nonEmpty(req.Constraints),
		Examples:    nonEmpty(req.Examples),
	}, threshold, maxIter, nil
}

func (o *Orchestrator) runFromStart(ctx context.Context, sess *session.Session) (*TaskResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.session",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	runStart := sess.StartedAt
	if err := o.transition(ctx, sess, session.StateGenerating, ""); err != nil {
		return nil, err
	}
	if o.timedOut(runStart) {
		return o.fail(ctx, sess, CauseTimeout)
	}
	if _, err := o.produceCode(ctx, sess, generationMessages(sess.Task), 1, ""); err != nil {
		return o.failOnBackend(ctx, sess, "generator", err)
	}
	return o.loop(ctx, sess, runStart)
}

// loop expects a freshly generated, unreviewed code artifact.
func (o *Orchestrator) loop(ctx context.Context, sess *session.Session, runStart time.Time) (*TaskResult, error) {
	for {
		if o.timedOut(runStart) {
			return o.fail(ctx, sess, CauseTimeout)
		}
		if err := o.transition(ctx, sess, session.StateReviewing, ""); err != nil {
			return nil, err
		}

		code, ok := sess.LatestArtifact(session.KindCode)
		if !ok {
			return nil, types.NewError(types.ErrInternalError, "no code artifact to review").WithHTTPStatus(http.StatusInternalServerError)
		}
		parsed, err := o.review(ctx, sess, code)
		if err != nil {
			return o.failOnBackend(ctx, sess, "critic", err)
		}

		decision := Evaluate(ConvergenceInput{
			Scores:        sess.ScoreHistory,
			Iteration:     sess.Iteration,
			MaxIterations: sess.MaxIterations,
			Threshold:     sess.QualityThreshold,
			Fingerprint:   code.Metadata[session.MetaFingerprint],
			Seen:          sess.ContentFingerprints,
		})
		sess.ContentFingerprints = decision.Fingerprints

		o.logger.Info("review scored",
			zap.String("session_id", sess.ID),
			zap.Int("iteration", sess.Iteration),
			zap.Float64("score", parsed.Feedback.QualityScore),
			zap.Bool("malformed", parsed.Malformed),
			zap.String("next", string(decision.Next)),
			zap.String("reason", string(decision.Reason)),
		)

		switch decision.Next {
		case session.StateConverged:
			if err := o.transition(ctx, sess, session.StateConverged, ""); err != nil {
				return nil, err
			}
			o.metrics.RecordSessionOutcome(string(session.StateConverged), "", sess.Iteration)
			return o.resultFor(sess), nil

		case session.StateEscalated:
			return o.escalate(ctx, sess, decision.Reason)

		default:
			if err := o.transition(ctx, sess, session.StateRevising, ""); err != nil {
				return nil, err
			}
			if o.timedOut(runStart) {
				return o.fail(ctx, sess, CauseTimeout)
			}
			if _, err := o.produceCode(ctx, sess, revisionMessages(sess.Task, code.Content, parsed.Feedback), sess.Iteration+1, code.ID); err != nil {
				return o.failOnBackend(ctx, sess, "generator", err)
			}
		}
	}
}

func (o *Orchestrator) escalate(ctx context.Context, sess *session.Session, reason session.EscalationReason) (*TaskResult, error) {
	msg, err := BuildEscalation(sess, reason)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = o.now()
	sess.Escalation = msg
	if err := o.transition(ctx, sess, session.StateEscalated, string(reason)); err != nil {
		return nil, err
	}
	o.metrics.RecordSessionOutcome(string(session.StateEscalated), string(reason), sess.Iteration)
	o.logger.Warn("session escalated",
		zap.String("session_id", sess.ID),
		zap.String("reason", string(reason)),
		zap.Float64("best_score", msg.BestScore),
		zap.String("best_artifact", msg.BestArtifact.ID),
	)
	return o.resultFor(sess), nil
}

func (o *Orchestrator) failOnBackend(ctx context.Context, sess *session.Session, role string, err error) (*TaskResult, error) {
	if !types.IsCode(err, types.ErrEndpointUnavailable) {
		o.logger.Error("unexpected backend error", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return o.fail(ctx, sess, fmt.Sprintf("%s unavailable: %v", role, err))
}

func (o *Orchestrator) fail(ctx context.Context, sess *session.Session, cause string) (*TaskResult, error) {
	sess.FailureCause = cause
	if err := o.transition(ctx, sess, session.StateFailed, cause); err != nil {
		return nil, err
	}
	o.metrics.RecordSessionOutcome(string(session.StateFailed), failureLabel(cause), sess.Iteration)
	o.logger.Error("session failed", zap.String("session_id", sess.ID), zap.String("cause", cause))
	return o.resultFor(sess), nil
}

func failureLabel(cause string) string {
	switch {
	case cause == CauseTimeout:
		return "timeout"
	case strings.HasPrefix(cause, "generator"):
		return "generator_unavailable"
	case strings.HasPrefix(cause, "critic"):
		return "critic_unavailable"
	default:
		return "explicit"
	}
}

// =============================================================================
// Escalation resolution
// =============================================================================

// ResolveEscalation applies an external decision to an escalated session.
func (o *Orchestrator) ResolveEscalation(ctx context.Context, sessionID string, d Resolution) (*TaskResult, error) {
	if !d.Action.Valid() {
		return nil, types.NewValidationError("unknown action %q", d.Action)
	}
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != session.StateEscalated {
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("session %s is %s, not ESCALATED", sess.ID, sess.State)).
			WithHTTPStatus(http.StatusConflict)
	}

	o.logger.Info("resolving escalation",
		zap.String("session_id", sess.ID),
		zap.String("action", string(d.Action)),
	)

	switch d.Action {
	case session.ActionAbort:
		if err := o.transition(ctx, sess, session.StateIdle, string(d.Action)); err != nil {
			return nil, err
		}
		return o.resultFor(sess), nil

	case session.ActionAcceptBestEffort:
		msg := sess.Escalation
		if msg == nil {
			if msg, err = BuildEscalation(sess, session.ReasonExplicit); err != nil {
				return nil, err
			}
		}
		sess.AcceptedArtifactID = msg.BestArtifact.ID
		if err := o.transition(ctx, sess, session.StateIdle, string(d.Action)); err != nil {
			return nil, err
		}
		return o.resultFor(sess), nil

	case session.ActionFail:
		return o.fail(ctx, sess, "escalation resolved as failed")

	case session.ActionRetryWithConstraints:
		sess.Task.Constraints = append(sess.Task.Constraints, nonEmpty(d.Constraints)...)
		sess.MaxIterations += o.cfg.RetryExtraIterations
		return o.resume(ctx, sess, string(d.Action))

	case session.ActionSwitchBackend:
		role := d.Role
		if role == "" {
			role = llm.RoleGenerator
		}
		if err := o.SwitchBackend(ctx, role, d.Backend); err != nil {
			return nil, err
		}
		if role == llm.RoleGenerator {
			sess.Generator = d.Backend
		} else {
			sess.Critic = d.Backend
		}
		if sess.Iteration >= sess.MaxIterations {
			sess.MaxIterations = sess.Iteration + o.cfg.RetryExtraIterations
		}
		return o.resume(ctx, sess, string(d.Action))
	}
	return nil, types.NewValidationError("unknown action %q", d.Action)
}

// resume re-enters the loop from ESCALATED with a revision of the newest code.
func (o *Orchestrator) resume(ctx context.Context, sess *session.Session, reason string) (*TaskResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := o.tracer.Start(ctx, "orchestrator.resume",
		trace.WithAttributes(attribute.String("session.id", sess.ID), attribute.String("action", reason)))
	defer span.End()

	runStart := o.now()
	if err := o.transition(ctx, sess, session.StateRevising, reason); err != nil {
		return nil, err
	}

	code, ok := sess.LatestArtifact(session.KindCode)
	if !ok {
		return nil, types.NewEscalationConstructionError(sess.ID)
	}
	feedback := session.PlaceholderFeedback()
	if review, ok := sess.LatestArtifact(session.KindReview); ok {
		feedback = ParseFeedback(review.Content).Feedback
	}
	if _, err := o.produceCode(ctx, sess, revisionMessages(sess.Task, code.Content, feedback), sess.Iteration+1, code.ID); err != nil {
		return o.failOnBackend(ctx, sess, "generator", err)
	}
	return o.loop(ctx, sess, runStart)
}

// Acknowledge returns a CONVERGED or FAILED session to IDLE. Acknowledging
// an IDLE session reports NOT_FOUND: there is nothing pending.
func (o *Orchestrator) Acknowledge(ctx context.Context, sessionID string) (*TaskResult, error) {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case session.StateConverged, session.StateFailed:
		if err := o.transition(ctx, sess, session.StateIdle, "acknowledged"); err != nil {
			return nil, err
		}
		return o.resultFor(sess), nil
	case session.StateIdle:
		return nil, types.NewNotFoundError("pending outcome for session", sessionID)
	default:
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("session %s is %s and cannot be acknowledged", sess.ID, sess.State)).
			WithHTTPStatus(http.StatusConflict)
	}
}

// =============================================================================
// Queries
// =============================================================================

// GetSession returns a session by id.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return o.load(ctx, sessionID)
}

// ListSessions lists sessions, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context, filter persistence.ListFilter) ([]*session.Session, error) {
	sessions, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListArtifacts returns a session's artifacts in creation order, optionally
// restricted to one kind.
func (o *Orchestrator) ListArtifacts(ctx context.Context, sessionID string, kind session.ArtifactKind) ([]session.Artifact, error) {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]session.Artifact, 0, len(sess.Artifacts))
	for _, a := range sess.Artifacts {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetArtifact returns one artifact of a session.
func (o *Orchestrator) GetArtifact(ctx context.Context, sessionID, artifactID string) (session.Artifact, error) {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return session.Artifact{}, err
	}
	a, ok := sess.ArtifactByID(artifactID)
	if !ok {
		return session.Artifact{}, types.NewNotFoundError("artifact", artifactID)
	}
	return a, nil
}

// DeleteSession archives an IDLE session.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != session.StateIdle {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("session %s is %s; only IDLE sessions can be deleted", sess.ID, sess.State)).
			WithHTTPStatus(http.StatusConflict)
	}
	if err := o.store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return types.NewNotFoundError("session", sessionID)
		}
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	o.logger.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// =============================================================================
// Backends
// =============================================================================

// Backends describes the installed generator and critic.
func (o *Orchestrator) Backends() []BackendInfo {
	out := make([]BackendInfo, 0, 2)
	for _, sw := range []*llm.Switchable{o.generator, o.critic} {
		out = append(out, BackendInfo{
			Role:  sw.Role(),
			Label: sw.Label(),
			Name:  sw.Name(),
			Model: sw.Model(),
		})
	}
	return out
}

// AvailableBackends lists the names switch_backend accepts.
func (o *Orchestrator) AvailableBackends() []string {
	return o.backends.List()
}

// SwitchBackend health-probes a registered backend and installs it in the
// role's slot. A failed probe leaves the current backend in place.
func (o *Orchestrator) SwitchBackend(ctx context.Context, role llm.BackendRole, name string) error {
	if !role.Valid() {
		return types.NewValidationError("unknown backend role %q", role)
	}
	if strings.TrimSpace(name) == "" {
		return types.NewValidationError("backend name is required")
	}
	p, ok := o.backends.Get(name)
	if !ok {
		return types.NewNotFoundError("backend", name)
	}
	if err := o.slot(role).Swap(ctx, name, p); err != nil {
		return err
	}
	o.publish(Event{Type: EventBackendSwitched, Reason: fmt.Sprintf("%s=%s", role, name)})
	return nil
}

// InstallBackend swaps in an already-built backend, e.g. after a config
// reload.
func (o *Orchestrator) InstallBackend(ctx context.Context, role llm.BackendRole, label string, p llm.Provider) error {
	if !role.Valid() {
		return types.NewValidationError("unknown backend role %q", role)
	}
	if err := o.slot(role).Swap(ctx, label, p); err != nil {
		return err
	}
	o.backends.Register(label, p)
	o.publish(Event{Type: EventBackendSwitched, Reason: fmt.Sprintf("%s=%s", role, label)})
	return nil
}

func (o *Orchestrator) slot(role llm.BackendRole) *llm.Switchable {
	if role == llm.RoleCritic {
		return o.critic
	}
	return o.generator
}

// =============================================================================
// Steps
// =============================================================================

// backendCall is what one successful call reports.
type backendCall struct {
	text             string
	backend          string
	model            string
	promptTokens     int
	completionTokens int
}

// call runs one backend request. Each attempt takes an admission slot;
// backoff sleeps happen outside the slot.
func (o *Orchestrator) call(ctx context.Context, sw *llm.Switchable, sess *session.Session, step string,
	messages []llm.Message, temperature float32, maxTokens int) (*backendCall, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+step,
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("backend.role", string(sw.Role())),
			attribute.Int("iteration", sess.Iteration),
		))
	defer span.End()

	req := &llm.ChatRequest{
		TraceID:     sess.ID,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Metadata:    map[string]string{"session_id": sess.ID, "step": step},
	}
	operation := fmt.Sprintf("%s (session %s)", step, sess.ID)

	start := o.now()
	finish := o.otelCalls.Begin(ctx, string(sw.Role()))
	var installed, model string
	resp, err := retry.DoWithResultTyped(o.retryer, ctx, operation, func(ctx context.Context) (*llm.ChatResponse, error) {
		return pool.SubmitTyped(ctx, o.admission, func(ctx context.Context) (*llm.ChatResponse, error) {
			installed, model = sw.Label(), sw.Model()
			resp, err := sw.Completion(ctx, req)
			if err != nil {
				return nil, err
			}
			if _, err := resp.Text(); err != nil {
				return nil, &llm.Error{Code: llm.ErrEmptyResponse, Message: err.Error(), Retryable: true, Provider: installed}
			}
			return resp, nil
		})
	})
	duration := o.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordBackendCall(string(sw.Role()), installed, model, "error", duration, 0, 0)
		finish(telemetry.BackendCall{Backend: installed, Model: model, Status: "error", Duration: duration})
		return nil, err
	}

	text, _ := resp.Text()
	c := &backendCall{
		text:             text,
		backend:          installed,
		model:            resp.Model,
		promptTokens:     resp.Usage.PromptTokens,
		completionTokens: resp.Usage.CompletionTokens,
	}
	if c.model == "" {
		c.model = model
	}
	if c.completionTokens == 0 {
		c.completionTokens = tokenizer.Count(o.tokenizer, text)
	}
	if c.promptTokens == 0 {
		for _, m := range messages {
			c.promptTokens += tokenizer.Count(o.tokenizer, m.Content)
		}
	}
	span.SetAttributes(attribute.String("backend.name", c.backend), attribute.Int("tokens.completion", c.completionTokens))
	o.metrics.RecordBackendCall(string(sw.Role()), c.backend, c.model, "success", duration, c.promptTokens, c.completionTokens)
	finish(telemetry.BackendCall{
		Backend: c.backend, Model: c.model, Status: "success", Duration: duration,
		PromptTokens: c.promptTokens, CompletionTokens: c.completionTokens,
	})
	return c, nil
}

// produceCode asks the generator for a version of the code and stores it
// as a new artifact tagged with iteration.
func (o *Orchestrator) produceCode(ctx context.Context, sess *session.Session, messages []llm.Message, iteration int, sourceID string) (session.Artifact, error) {
	c, err := o.call(ctx, o.generator, sess, "generate", messages, o.cfg.GeneratorTemperature, o.cfg.GeneratorMaxTokens)
	if err != nil {
		return session.Artifact{}, err
	}

	code := ExtractCode(c.text, sess.Task.Language)
	art := session.NewArtifact(session.KindCode, code, iteration, o.now())
	art.Metadata[session.MetaBackend] = c.backend
	art.Metadata[session.MetaModel] = c.model
	art.Metadata[session.MetaTokens] = strconv.Itoa(c.completionTokens)
	art.Metadata[session.MetaFingerprint] = session.Fingerprint(code)
	if sourceID != "" {
		art.Metadata[session.MetaSourceArtifactID] = sourceID
	}
	sess.Generator = c.backend
	sess.AppendArtifact(art)
	if err := o.save(ctx, sess); err != nil {
		return session.Artifact{}, err
	}
	o.publish(Event{Type: EventArtifactCreated, SessionID: sess.ID, Iteration: iteration, ArtifactID: art.ID})
	return art, nil
}

// review asks the critic to score code and records the score. Unparseable
// output is scored 0 through sentinel feedback.
func (o *Orchestrator) review(ctx context.Context, sess *session.Session, code session.Artifact) (ParseResult, error) {
	c, err := o.call(ctx, o.critic, sess, "review", critiqueMessages(sess.Task, code.Content), o.cfg.CriticTemperature, o.cfg.CriticMaxTokens)
	if err != nil {
		return ParseResult{}, err
	}

	parsed := ParseFeedback(c.text)
	if parsed.Malformed {
		o.logger.Warn("critic output malformed, scoring 0",
			zap.String("session_id", sess.ID),
			zap.Error(parsed.Err()),
		)
	}

	iteration, ok := code.Iteration()
	if !ok {
		iteration = sess.Iteration + 1
	}
	art := session.NewArtifact(session.KindReview, c.text, iteration, o.now())
	art.Metadata[session.MetaSourceArtifactID] = code.ID
	art.Metadata[session.MetaBackend] = c.backend
	art.Metadata[session.MetaModel] = c.model
	art.Metadata[session.MetaTokens] = strconv.Itoa(c.completionTokens)
	art.Metadata[session.MetaParseStatus] = parsed.Status()
	art.Metadata[session.MetaQualityScore] = strconv.FormatFloat(parsed.Feedback.QualityScore, 'f', -1, 64)

	sess.Critic = c.backend
	sess.AppendArtifact(art)
	sess.RecordScore(parsed.Feedback.QualityScore)

	score := parsed.Feedback.QualityScore
	o.publish(Event{Type: EventReviewScored, SessionID: sess.ID, Iteration: sess.Iteration, Score: &score, ArtifactID: art.ID})
	return parsed, nil
}

// =============================================================================
// Helpers
// =============================================================================

// transition moves the session one edge, persists it and announces it.
func (o *Orchestrator) transition(ctx context.Context, sess *session.Session, to session.State, reason string) error {
	from := sess.State
	if err := sess.Transition(to); err != nil {
		return types.NewError(types.ErrInvalidTransition, err.Error()).
			WithHTTPStatus(http.StatusConflict).
			WithCause(err)
	}
	if err := o.save(ctx, sess); err != nil {
		return err
	}

	o.metrics.RecordStateTransition(string(from), string(to))
	o.publish(Event{
		Type:      EventStateChange,
		SessionID: sess.ID,
		From:      from,
		To:        to,
		Iteration: sess.Iteration,
		Reason:    reason,
	})
	o.logger.Debug("session transition",
		zap.String("session_id", sess.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

func (o *Orchestrator) save(ctx context.Context, sess *session.Session) error {
	sess.Touch(o.now())
	if err := o.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, types.NewNotFoundError("session", sessionID)
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (o *Orchestrator) publish(e Event) {
	if o.events == nil {
		return
	}
	e.Timestamp = o.now()
	o.events.Publish(e)
}

func (o *Orchestrator) timedOut(runStart time.Time) bool {
	return o.cfg.TaskTimeout > 0 && o.now().Sub(runStart) > o.cfg.TaskTimeout
}

func (o *Orchestrator) resultFor(sess *session.Session) *TaskResult {
	res := &TaskResult{
		SessionID:          sess.ID,
		State:              sess.State,
		Iteration:          sess.Iteration,
		ScoreHistory:       append([]float64{}, sess.ScoreHistory...),
		Escalation:         sess.Escalation,
		AcceptedArtifactID: sess.AcceptedArtifactID,
		FailureCause:       sess.FailureCause,
	}
	versions := sess.CodeArtifacts()
	if len(versions) > 0 {
		first, latest := versions[0], versions[len(versions)-1]
		res.FirstArtifact = &first
		res.LatestArtifact = &latest
	}
	if sess.State != session.StateEscalated && sess.State != session.StateIdle {
		res.Escalation = nil
	}
	return res
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
