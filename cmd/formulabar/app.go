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
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/formulabar/binding"
	"github.com/BaSui01/formulabar/config"
	"github.com/BaSui01/formulabar/editor"
	"github.com/BaSui01/formulabar/eval"
	"github.com/BaSui01/formulabar/internal/metrics"
	"github.com/BaSui01/formulabar/internal/server"
	"github.com/BaSui01/formulabar/internal/telemetry"
	"github.com/BaSui01/formulabar/internal/transport"
	"github.com/BaSui01/formulabar/lsp"
)

// =============================================================================
// 🧩 公共参数
// =============================================================================

type commonFlags struct {
	configPath  string
	entity      string
	recordPath  string
	recordID    string
	context     string
	metricsAddr string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file (YAML)")
	fs.StringVar(&c.entity, "entity", "", "Entity logical name")
	fs.StringVar(&c.recordPath, "record", "", "JSON file of records keyed by entity/id")
	fs.StringVar(&c.recordID, "id", "", "Record id inside --record")
	fs.StringVar(&c.context, "context", "", "Explicit formula context")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// positionFlags complete / signature 的光标参数
type positionFlags struct {
	line   int
	column int
}

func (p *positionFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&p.line, "line", 1, "1-based line")
	fs.IntVar(&p.column, "column", 0, "1-based column (default: end of formula)")
}

// resolve 默认列是公式末尾之后
func (p positionFlags) resolve(formula string) editor.Position {
	pos := editor.Position{LineNumber: p.line, Column: p.column}
	if pos.LineNumber < 1 {
		pos.LineNumber = 1
	}
	if pos.Column < 1 {
		pos.Column = utf8.RuneCountInString(formula) + 1
	}
	return pos
}

// =============================================================================
// 🏗️ 应用装配
// =============================================================================

// app 一次命令执行所需的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers
	metrics   *server.Manager
	session   *lsp.Session
	editor    *editor.Editor
	records   binding.RecordSource
	contexts  *binding.ContextProvider
	flags     commonFlags
}

func newApp(ctx context.Context, flags commonFlags) (*app, error) {
	cfg, err := config.NewLoader().WithConfigPath(flags.configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.entity != "" {
		cfg.Editor.EntityName = flags.entity
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.ListenAddr = flags.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := initLogger(cfg.Log)
	a := &app{cfg: cfg, logger: logger, flags: flags}

	a.providers, err = telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without exporters", zap.Error(err))
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	if cfg.Metrics.ListenAddr != "" {
		a.metrics = server.NewManager(server.Handler(), server.DefaultConfig(cfg.Metrics.ListenAddr), logger)
		if err := a.metrics.Start(); err != nil {
			a.close()
			return nil, err
		}
	}

	sender := transport.New(&transport.Config{
		Timeout:              cfg.Endpoint.Timeout,
		MaxRequestsPerSecond: cfg.Endpoint.MaxRequestsPerSecond,
		MaxResponseBytes:     cfg.Endpoint.MaxResponseBytes,
		Headers:              cfg.Endpoint.Headers,
	}, logger, transport.WithObserver(collector))

	a.session, err = lsp.NewSession(sender, cfg.Endpoint.URL, editor.FormulaColumnsURI(cfg.Editor.EntityName),
		lsp.WithLogger(logger),
		lsp.WithObserver(collector),
		lsp.WithFormulaType(cfg.Session.FormulaType),
		lsp.WithLanguageID(cfg.Session.LanguageID),
		lsp.WithRequestTimeout(cfg.Session.RequestTimeout),
		lsp.WithMaxPendingRoundTrips(cfg.Session.MaxPendingRoundTrips),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	a.records = binding.RecordSourceFunc(func(context.Context, string, string) (map[string]any, error) {
		return nil, binding.ErrRecordNotFound
	})
	if flags.recordPath != "" {
		a.records = binding.NewFileRecordSource(flags.recordPath)
	}
	a.contexts = binding.NewContextProvider(a.records, logger)

	a.editor = editor.New(a.session,
		editor.WithFeatures(editor.FeaturesFromConfig(cfg.Editor)),
		editor.WithEvaluator(eval.NewClient(sender, cfg.Endpoint.EvalEndpoint(), logger)),
		editor.WithLogger(logger),
	)
	return a, nil
}

// bind 解析公式上下文与记录参数并交给编辑框
func (a *app) bind(ctx context.Context) error {
	entity := a.cfg.Editor.EntityName
	a.editor.SetFormulaContext(a.contexts.Resolve(ctx, a.flags.context, entity, a.flags.recordID))

	if a.flags.recordID == "" {
		return nil
	}
	record, err := a.records.Retrieve(ctx, entity, a.flags.recordID)
	if err != nil {
		a.logger.Warn("record parameters unavailable", zap.Error(err))
		return nil
	}
	params, err := binding.BindParameters(record)
	if err != nil {
		return err
	}
	a.editor.SetParameters(params)
	return nil
}

func (a *app) close() {
	if a.editor != nil {
		a.editor.Unmount()
	}
	if a.session != nil {
		a.session.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := a.providers.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// run 装配组件并执行 fn；指标服务异步失败时终止命令
func run(flags commonFlags, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.bind(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	var out any

	g.Go(func() error {
		defer close(done)
		var err error
		out, err = fn(gctx, a)
		return err
	})
	if a.metrics != nil {
		g.Go(func() error {
			select {
			case err := <-a.metrics.Errors():
				return fmt.Errorf("metrics server: %w", err)
			case <-done:
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return printJSON(os.Stdout, out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formulaArg 取唯一的位置参数作为公式
func formulaArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", errors.New("expected exactly one formula argument")
	}
	return fs.Arg(0), nil
}

// =============================================================================
// 🚀 子命令
// =============================================================================

type checkOutput struct {
	Markers        []editor.Marker          `json:"markers"`
	Names          []editor.HighlightedName `json:"names"`
	ExpressionType json.RawMessage          `json:"expressionType,omitempty"`
	State          editor.State             `json:"state"`
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	_ = fs.Parse(args)

	formula, err := formulaArg(fs)
	if err != nil {
		return err
	}

	return run(common, func(ctx context.Context, a *app) (any, error) {
		a.editor.Mount(ctx, formula)
		return checkOutput{
			Markers:        a.editor.Markers(),
			Names:          a.editor.HighlightedNames(),
			ExpressionType: a.editor.ExpressionType(),
			State:          a.editor.State(),
		}, nil
	})
}

var triggerNames = map[string]editor.TriggerKind{
	"invoke":     editor.TriggerInvoke,
	"character":  editor.TriggerCharacter,
	"incomplete": editor.TriggerForIncompleteCompletions,
}

func runComplete(args []string) error {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	var common commonFlags
	var pos positionFlags
	common.register(fs)
	pos.register(fs)
	trigger := fs.String("trigger", "invoke", "Trigger kind: invoke, character, incomplete")
	triggerChar := fs.String("char", "", "Trigger character")
	_ = fs.Parse(args)

	formula, err := formulaArg(fs)
	if err != nil {
		return err
	}
	kind, ok := triggerNames[*trigger]
	if !ok {
		return fmt.Errorf("unknown trigger kind %q", *trigger)
	}

	return run(common, func(ctx context.Context, a *app) (any, error) {
		a.editor.Mount(ctx, formula)
		p := pos.resolve(formula)
		return a.editor.ProvideCompletion(ctx, formula, p, editor.WordAt(formula, p), kind, *triggerChar)
	})
}

func runSignature(args []string) error {
	fs := flag.NewFlagSet("signature", flag.ExitOnError)
	var common commonFlags
	var pos positionFlags
	common.register(fs)
	pos.register(fs)
	_ = fs.Parse(args)

	formula, err := formulaArg(fs)
	if err != nil {
		return err
	}

	return run(common, func(ctx context.Context, a *app) (any, error) {
		a.editor.Mount(ctx, formula)
		return a.editor.ProvideSignatureHelp(ctx, formula, pos.resolve(formula))
	})
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	_ = fs.Parse(args)

	formula, err := formulaArg(fs)
	if err != nil {
		return err
	}

	return run(common, func(ctx context.Context, a *app) (any, error) {
		return a.editor.Evaluate(ctx, formula)
	})
}
