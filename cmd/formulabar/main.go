// =============================================================================
// formulabar 命令行入口
// =============================================================================
// 针对真实公式服务驱动一次 LSP 会话：诊断、补全、签名帮助与求值
//
// 使用方法:
//
//	formulabar check "1+1"                              # didOpen 并打印诊断与标识符
//	formulabar complete --column 3 "Ab"                  # 请求补全
//	formulabar signature --column 5 "Abs("               # 请求签名帮助
//	formulabar eval --record records.json --id 1 "name"  # 求值
//	formulabar version                                   # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/formulabar/config"
	"github.com/BaSui01/formulabar/internal/telemetry"
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
	if Version != "dev" {
		telemetry.Version = Version
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:])
	case "complete":
		err = runComplete(os.Args[2:])
	case "signature":
		err = runSignature(os.Args[2:])
	case "eval":
		err = runEval(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "formulabar %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("formulabar %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`formulabar - Power Fx formula session client

Usage:
  formulabar <command> [options] <formula>

Commands:
  check       Open the formula and print diagnostics, tokens and the evaluated value
  complete    Request completions at --line/--column
  signature   Request signature help at --line/--column
  eval        Evaluate the formula
  version     Show version information
  help        Show this help message

Common options:
  --config <path>        Path to configuration file (YAML)
  --entity <name>        Entity logical name (overrides editor.entity_name)
  --record <path>        JSON file of records keyed by "entity/id", used for the formula context
  --id <id>              Record id inside --record
  --context <string>     Explicit formula context (wins over --record)
  --metrics-addr <addr>  Serve Prometheus metrics while the command runs

Options for 'complete' and 'signature':
  --line <n>             1-based line (default 1)
  --column <n>           1-based column (default: end of formula)
  --trigger <kind>       invoke | character | incomplete (complete only)
  --char <c>             Trigger character (complete only)

Examples:
  formulabar check --config formulabar.yaml "Sum(1, 2"
  formulabar complete --entity account --column 3 "Ab"
  formulabar eval --record records.json --entity account --id 42 "name & \"!\""
  formulabar version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
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

	// 配置编码器
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
		// stdout 留给命令结果
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
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
