package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/o3willard-AI/alcs-sub001/config"
)

// State is a Manager's lifecycle position. It only moves forward.
type State int32

const (
	StateIdle State = iota
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServing:
		return "serving"
	default:
		return "closed"
	}
}

// Manager runs one listener. cmd/alcs uses two: the API port and the
// /metrics port.
type Manager struct {
	name   string
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	mu    sync.Mutex
	state State
	ln    net.Listener
	// serveErr 最多一个值：Serve 的非正常退出
	serveErr chan error
}

// Config holds listener timeouts.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFor derives the listener config for port. A synchronous task
// submission holds its request open until the session settles, so the
// configured write timeout must cover the task timeout.
func ConfigFor(sc config.ServerConfig, port int) Config {
	c := DefaultConfig()
	c.Addr = net.JoinHostPort("", strconv.Itoa(port))
	for dst, src := range map[*time.Duration]time.Duration{
		&c.ReadTimeout:     sc.ReadTimeout,
		&c.WriteTimeout:    sc.WriteTimeout,
		&c.ShutdownTimeout: sc.ShutdownTimeout,
	} {
		if src > 0 {
			*dst = src
		}
	}
	return c
}

// NewManager 不监听端口，调用 Start 或 Run 后才开始服务
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		name: name,
		cfg:  cfg,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		serveErr: make(chan error, 1),
		logger:   logger.With(zap.String("component", "http_server"), zap.String("server", name)),
	}
}

// Start binds the address and serves in the background.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateServing:
		return fmt.Errorf("%s server already started", m.name)
	case StateClosed:
		return fmt.Errorf("%s server is closed", m.name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.cfg.Addr, err)
	}
	m.ln, m.state = ln, StateServing
	m.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		err := m.srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("http server stopped unexpectedly", zap.Error(err))
		m.serveErr <- err
	}()
	return nil
}

// Run starts the server and blocks until ctx ends (graceful shutdown) or
// Serve fails.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-m.serveErr:
		serveErr = fmt.Errorf("%s server: %w", m.name, serveErr)
	}
	return errors.Join(serveErr, m.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown drains in-flight requests for at most ShutdownTimeout. Calling
// it again, or before Start, only marks the manager closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	m.state = StateClosed
	if prev != StateServing {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()
	start := time.Now()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("http server shutdown incomplete", zap.Error(err))
		return fmt.Errorf("%s server shutdown: %w", m.name, err)
	}
	m.logger.Info("http server stopped", zap.Duration("drain", time.Since(start)))
	return nil
}

// Addr 返回实际监听地址（端口 0 时有用）；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
