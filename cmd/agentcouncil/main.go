// =============================================================================
// AgentCouncil 主入口
// =============================================================================
// 命令行入口：召集多 Agent 会议、回放会话、根据实际结果反思调权
//
// 使用方法:
//
//	agentcouncil roundtable --task "..." --symbol BTCUSDT     # 交易会议
//	agentcouncil roundtable --scenario investment --task "..." # 投资委员会
//	agentcouncil replay --session <id>                        # 回放会话
//	agentcouncil reflect --session <id> --pnl -12.5           # 反思并调整权重
//	agentcouncil version                                      # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/internal/hosterr"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "roundtable":
		os.Exit(runRoundtableCmd(os.Args[2:]))
	case "replay":
		os.Exit(runReplayCmd(os.Args[2:]))
	case "reflect":
		os.Exit(runReflectCmd(os.Args[2:]))
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🏛️ 子命令
// =============================================================================

func runRoundtableCmd(args []string) int {
	fs := flag.NewFlagSet("roundtable", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	opts := roundtableOptions{}
	fs.StringVar(&opts.Scenario, "scenario", "trading", "Meeting scenario: trading or investment")
	fs.StringVar(&opts.Task, "task", "", "Task for the council")
	fs.StringVar(&opts.Symbol, "symbol", "BTCUSDT", "Trading symbol (trading scenario)")
	fs.StringVar(&opts.SessionID, "session", "", "Session id (generated when empty)")
	fs.StringVar(&opts.EventsTopic, "events-topic", "", "Also publish lifecycle events to this Kafka topic")
	fs.Float64Var(&opts.Size, "size", 0.01, "Position size")
	fs.Float64Var(&opts.Leverage, "leverage", 3, "Leverage")
	fs.Float64Var(&opts.StopPct, "stop-pct", 0.02, "Stop-loss distance as a fraction of entry, 0 for none")
	fs.Float64Var(&opts.TakePct, "tp-pct", 0.04, "Take-profit distance as a fraction of entry, 0 for none")
	metricsAddr := fs.String("metrics-addr", "", "Expose Prometheus metrics on this address while running")
	_ = fs.Parse(args)

	return withApp(*configPath, func(cfg *config.Config) { overrideMetrics(cfg, *metricsAddr) },
		func(ctx context.Context, a *app) error {
			report, err := a.runRoundtable(ctx, opts)
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, report)
		})
}

func runReplayCmd(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	session := fs.String("session", "", "Session id")
	_ = fs.Parse(args)

	return withApp(*configPath, nil, func(ctx context.Context, a *app) error {
		return a.replaySession(ctx, *session, os.Stdout)
	})
}

func runReflectCmd(args []string) int {
	fs := flag.NewFlagSet("reflect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	session := fs.String("session", "", "Session id")
	pnl := fs.String("pnl", "", "Realized PnL of the trade decided by the session")
	_ = fs.Parse(args)

	return withApp(*configPath, nil, func(ctx context.Context, a *app) error {
		if err := requireFlag("pnl", *pnl); err != nil {
			return err
		}
		rec, err := a.reflectSession(ctx, *session, *pnl)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, rec)
	})
}

// withApp 加载配置、初始化日志与依赖后执行 fn。
// fn 返回的错误经 hosterr 脱敏后打印，详细信息只进入日志。
func withApp(configPath string, adjust func(*config.Config), fn func(context.Context, *app) error) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if adjust != nil {
		adjust(cfg)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AgentCouncil",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, a); err != nil {
		var pub hosterr.PublicError
		if !errors.As(err, &pub) {
			pub = a.fail(ctx, err)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", pub)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideMetrics(cfg *config.Config, addr string) {
	if addr != "" {
		cfg.Metrics.Addr = addr
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentCouncil %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentCouncil - multi-agent decision council

Usage:
  agentcouncil <command> [options]

Commands:
  roundtable  Convene a council meeting and print the decision as JSON
  replay      Print the stored history of a session
  reflect     Feed a realized PnL back into the agent weights
  version     Show version information
  help        Show this help message

Common options:
  --config <path>        Path to configuration file (YAML)

Options for 'roundtable':
  --scenario <name>      trading (default) or investment
  --task <text>          Task for the council (required)
  --symbol <symbol>      Trading symbol, default BTCUSDT
  --session <id>         Session id, generated when empty
  --size, --leverage     Position parameters checked by the safety guard
  --stop-pct, --tp-pct   Stop-loss / take-profit distance as a fraction of entry
  --events-topic <name>  Also publish lifecycle events to Kafka
  --metrics-addr <addr>  Serve Prometheus metrics while running

Options for 'reflect':
  --session <id>         Session to reflect on (required)
  --pnl <amount>         Realized PnL, negative for a loss (required)

Examples:
  agentcouncil roundtable --task "Should we trade BTC today?" --symbol BTCUSDT
  agentcouncil roundtable --scenario investment --task "Evaluate ACME Series A"
  agentcouncil replay --session 5f1c...
  agentcouncil reflect --session 5f1c... --pnl -12.5
  agentcouncil version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		// stdout 留给命令输出
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
