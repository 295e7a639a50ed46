// alcs 命令行入口：serve 启动编排服务，migrate 管理数据库 schema，
// health 探测运行中的实例。
//
//	alcs serve --config config.yaml
//	alcs health --addr http://localhost:8080 --ready
//	alcs migrate status

// @title ALCS API
// @version 1.0.0
// @description Orchestrates a generator and a critic model in a review loop until the code converges, stalls or needs a human.
// @description
// @description ## Features
// @description - Generator/critic loop with quality threshold and iteration cap
// @description - Escalation with human resolution (accept, retry with constraints, switch backend)
// @description - Hot-swappable backends per role
// @description - Session event stream over WebSocket

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/o3willard-AI/alcs-sub001/config"
)

// 构建时通过 -ldflags "-X main.Version=..." 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type command struct {
	name  string
	short string
	run   func(args []string) int
}

var commands = []command{
	{"serve", "Start the ALCS server", runServe},
	{"migrate", "Database migration commands", func(args []string) int { runMigrate(args); return 0 }},
	{"health", "Probe a running server", runHealthCheck},
	{"version", "Show version information", func([]string) int { printVersion(os.Stdout); return 0 }},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return
	}
	i := slices.IndexFunc(commands, func(c command) bool { return c.name == name })
	if i < 0 {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage(os.Stderr)
		os.Exit(2)
	}
	os.Exit(commands[i].run(os.Args[2:]))
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting alcs",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("generator_model", cfg.Backends.Alpha.Model),
		zap.String("critic_model", cfg.Backends.Beta.Model),
	)
	if err := serve(cfg, *configPath, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return 1
	}
	logger.Info("alcs stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

// runHealthCheck 请求 /health（或 --ready 时 /ready），非 200 返回 1。
func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check readiness (store and backends) instead of liveness")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	_ = fs.Parse(args)

	status, err := probeHealth(&http.Client{Timeout: *timeout}, *addr, *ready)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		return 1
	}
	fmt.Println(status)
	return 0
}

// probeHealth returns the reported status; a non-200 reply is an error
// carrying that status.
func probeHealth(client *http.Client, addr string, ready bool) (string, error) {
	path := "/health"
	if ready {
		path = "/ready"
	}
	resp, err := client.Get(addr + path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if json.Unmarshal(raw, &body) != nil || body.Status == "" {
		body.Status = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return body.Status, fmt.Errorf("%s returned %d (%s)", path, resp.StatusCode, body.Status)
	}
	return body.Status, nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "alcs %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "alcs - generator/critic coding loop orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:\n  alcs <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.short)
	}
	fmt.Fprintln(w, `
Environment variables use the ALCS_ prefix, e.g. ALCS_SERVER_HTTP_PORT=8080.
Run "alcs <command> -h" for command options.`)
}

// newLogger builds the process logger. Unknown levels fall back to info,
// and a broken output path falls back to stderr JSON.
func newLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.DisableCaller = !cfg.EnableCaller
	zc.DisableStacktrace = !cfg.EnableStacktrace
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		logger = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(os.Stderr),
			level,
		))
		logger.Warn("log config rejected, using stderr", zap.Error(err))
	}
	return logger
}
