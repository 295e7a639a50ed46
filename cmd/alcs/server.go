package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/o3willard-AI/alcs-sub001/api/handlers"
	"github.com/o3willard-AI/alcs-sub001/config"
	"github.com/o3willard-AI/alcs-sub001/internal/database"
	"github.com/o3willard-AI/alcs-sub001/internal/metrics"
	"github.com/o3willard-AI/alcs-sub001/internal/pool"
	"github.com/o3willard-AI/alcs-sub001/internal/server"
	"github.com/o3willard-AI/alcs-sub001/internal/telemetry"
	"github.com/o3willard-AI/alcs-sub001/llm"
	llmfactory "github.com/o3willard-AI/alcs-sub001/llm/factory"
	"github.com/o3willard-AI/alcs-sub001/llm/retry"
	"github.com/o3willard-AI/alcs-sub001/orchestrator"
	"github.com/o3willard-AI/alcs-sub001/persistence"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有一次 serve 运行的全部组件
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	dbPool    *database.PoolManager
	store     persistence.Store
	registry  *llm.ProviderRegistry
	generator *llm.Switchable
	critic    *llm.Switchable
	admission *pool.AdmissionController
	events    *orchestrator.EventBus
	orch      *orchestrator.Orchestrator
	watcher   *config.Watcher

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// serve 构建服务并运行到收到 SIGINT/SIGTERM
func serve(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &Server{cfg: cfg, configPath: configPath, logger: logger}
	defer s.Shutdown()

	if err := s.init(ctx); err != nil {
		return err
	}
	return s.Run(ctx)
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func (s *Server) init(ctx context.Context) error {
	var err error

	s.telemetry, err = telemetry.Init(s.cfg.Telemetry, s.logger,
		telemetry.WithVersion(Version),
		telemetry.WithAttributes(
			attribute.String("alcs.backend.alpha.model", s.cfg.Backends.Alpha.Model),
			attribute.String("alcs.backend.beta.model", s.cfg.Backends.Beta.Model),
		),
	)
	if err != nil {
		// 遥测不可用不影响服务
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		s.telemetry = &telemetry.Providers{}
	}

	s.collector = metrics.NewCollector("alcs", s.logger)

	if err := s.initStore(ctx); err != nil {
		return err
	}
	if err := s.initBackends(ctx); err != nil {
		return err
	}

	s.admission = pool.NewAdmissionController(pool.AdmissionConfig{
		MaxConcurrent: s.cfg.Orchestrator.MaxConcurrentRequests,
		Observer:      s.collector.RecordAdmission,
	}, s.logger)

	policy := retry.PolicyWithCeiling(s.cfg.Orchestrator.RetryCeiling())
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.collector.RecordRetry("backend_call")
	}
	retryer := retry.NewBackoffRetryer(policy, s.logger)

	instruments, err := telemetry.NewBackendInstruments(s.telemetry.Meter("alcs/orchestrator"))
	if err != nil {
		s.logger.Warn("otel backend instruments disabled", zap.Error(err))
	}

	s.events = orchestrator.NewEventBus(s.logger)
	s.orch = orchestrator.New(s.store, s.generator, s.critic, s.admission, retryer, s.orchestratorConfig(),
		orchestrator.WithLogger(s.logger),
		orchestrator.WithEventBus(s.events),
		orchestrator.WithMetrics(s.collector),
		orchestrator.WithTracer(s.telemetry.Tracer("alcs/orchestrator")),
		orchestrator.WithInstruments(instruments),
		orchestrator.WithBackendRegistry(s.registry),
	)

	if s.configPath != "" {
		if err := s.initWatcher(ctx); err != nil {
			s.logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	s.initHTTP(ctx)
	return nil
}

// initStore 打开会话存储；database 类型还会建立连接池
func (s *Server) initStore(ctx context.Context) error {
	deps := persistence.Deps{Logger: s.logger}

	if s.cfg.Store.Type == persistence.StoreTypeDatabase {
		db, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		s.dbPool, err = database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
			database.WithMetrics(s.collector, s.cfg.Database.Driver))
		if err != nil {
			return fmt.Errorf("database pool: %w", err)
		}
		deps.DB = s.dbPool.DB()
	}

	store, err := persistence.NewStore(ctx, s.cfg.Store, deps)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	s.store = store
	s.logger.Info("session store ready", zap.String("type", string(s.cfg.Store.Type)))
	return nil
}

// initBackends 构建 alpha/beta 与 extra 后端并做启动探测
func (s *Server) initBackends(ctx context.Context) error {
	s.registry = llm.NewProviderRegistry()

	named := map[string]config.BackendConfig{
		"alpha": s.cfg.Backends.Alpha,
		"beta":  s.cfg.Backends.Beta,
	}
	// Validate 已拒绝与 alpha/beta 重名的 extra
	for name, bc := range s.cfg.Backends.Extra {
		named[name] = bc
	}

	for name, bc := range named {
		p, err := newBackend(bc, s.logger)
		if err != nil {
			return fmt.Errorf("backend %s: %w", name, err)
		}
		s.registry.Register(name, p)
	}

	alpha, _ := s.registry.Get("alpha")
	beta, _ := s.registry.Get("beta")
	s.generator = llm.NewSwitchable(llm.RoleGenerator, "alpha", alpha, s.logger)
	s.critic = llm.NewSwitchable(llm.RoleCritic, "beta", beta, s.logger)

	// 启动探测只告警：后端可能晚于本服务就绪
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(probeCtx)
	for _, e := range s.registry.Entries() {
		g.Go(func() error {
			fields := []zap.Field{zap.String("backend", e.Name), zap.String("provider", e.Provider.Name()), zap.String("model", e.Model)}
			if err := llm.Probe(gctx, e.Provider); err != nil {
				s.logger.Warn("backend not reachable at startup", append(fields, zap.Error(err))...)
				return nil
			}
			s.logger.Info("backend reachable", fields...)
			return nil
		})
	}
	return g.Wait()
}

// newBackend 根据配置创建后端
func newBackend(bc config.BackendConfig, logger *zap.Logger) (llm.Provider, error) {
	extra := map[string]any{}
	if bc.KeepAlive != "" {
		extra["keep_alive"] = bc.KeepAlive
	}
	if bc.CAFile != "" {
		extra["ca_file"] = bc.CAFile
	}
	return llmfactory.NewProviderFromConfig(bc.Provider, llmfactory.ProviderConfig{
		APIKey:  bc.APIKey,
		BaseURL: bc.BaseURL,
		Model:   bc.Model,
		Timeout: bc.Timeout,
		Extra:   extra,
	}, logger)
}

func (s *Server) orchestratorConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	o := s.cfg.Orchestrator
	if o.DefaultQualityThreshold > 0 {
		oc.DefaultQualityThreshold = o.DefaultQualityThreshold
	}
	if o.DefaultMaxIterations > 0 {
		oc.DefaultMaxIterations = o.DefaultMaxIterations
	}
	oc.TaskTimeout = o.TaskTimeout()
	if o.RetryExtraIterations > 0 {
		oc.RetryExtraIterations = o.RetryExtraIterations
	}
	if b := s.cfg.Backends.Alpha; b.MaxTokens > 0 {
		oc.GeneratorTemperature = float32(b.Temperature)
		oc.GeneratorMaxTokens = b.MaxTokens
	}
	if b := s.cfg.Backends.Beta; b.MaxTokens > 0 {
		oc.CriticTemperature = float32(b.Temperature)
		oc.CriticMaxTokens = b.MaxTokens
	}
	return oc
}

// initWatcher 监听配置文件，alpha/beta 变更时重建后端并热替换
func (s *Server) initWatcher(ctx context.Context) error {
	w, err := config.NewWatcher(s.configPath, s.cfg, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnReload(func(prev, next *config.Config) {
		for label, bc := range config.ChangedBackends(prev, next) {
			p, err := newBackend(bc, s.logger)
			if err != nil {
				s.logger.Error("reloaded backend config rejected", zap.String("backend", label), zap.Error(err))
				continue
			}
			installed := false
			for _, sw := range []*llm.Switchable{s.generator, s.critic} {
				if sw.Label() != label {
					continue
				}
				installed = true
				swapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				err := s.orch.InstallBackend(swapCtx, sw.Role(), label, p)
				cancel()
				if err != nil {
					s.logger.Error("hot swap failed, keeping previous backend",
						zap.String("backend", label), zap.String("role", string(sw.Role())), zap.Error(err))
				}
			}
			if !installed {
				s.registry.Register(label, p)
			}
			s.logger.Info("backend config reloaded", zap.String("backend", label), zap.Bool("installed", installed))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

func (s *Server) initHTTP(ctx context.Context) {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("store", s.orch.Ping))
	if s.dbPool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.dbPool.Ping))
	}
	health.RegisterCheck(handlers.NewBackendHealthCheck(s.generator))
	health.RegisterCheck(handlers.NewBackendHealthCheck(s.critic))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.RegisterRoutes(mux,
		handlers.NewSessionHandler(s.orch, s.logger),
		handlers.NewBackendHandler(s.orch, s.logger),
		handlers.NewEventStreamHandler(s.events, s.orch, s.logger,
			handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins...)),
	)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, skipAuthPaths, s.logger),
	)
	s.httpManager = server.NewManager("http", handler, server.ConfigFor(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager("metrics", metricsMux, server.ConfigFor(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)

	s.logger.Info("HTTP routes registered", zap.String("auth", describeAuth(s.cfg.Auth)))
}

// Run 运行两个监听端口直到 ctx 结束或任一服务失败
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 释放组件。HTTP 服务已由 Run 关闭
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	if s.watcher != nil {
		s.watcher.Stop()
	}

	// 等待后台任务，超过关闭超时则放弃等待
	if s.orch != nil {
		done := make(chan struct{})
		go func() {
			s.orch.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.Server.ShutdownTimeout):
			s.logger.Warn("background tasks still running at shutdown; their sessions keep their last persisted state")
		}
	}
	if s.events != nil {
		s.events.Stop()
	}
	if s.admission != nil {
		s.admission.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("session store close error", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("database pool close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
