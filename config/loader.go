// =============================================================================
// 📦 formulabar 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("formulabar.yaml").
//	    WithEnvPrefix("FORMULABAR").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 formulabar 的完整配置结构
type Config struct {
	// Endpoint 语言服务端点配置
	Endpoint EndpointConfig `yaml:"endpoint" env:"ENDPOINT"`

	// Session LSP 会话配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Editor 编辑器功能开关
	Editor EditorConfig `yaml:"editor" env:"EDITOR"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// EndpointConfig 语言服务端点配置
type EndpointConfig struct {
	// 服务地址，例如 https://org.crm.dynamics.com/api/data/v9.0/RetrieveLanguageServerData
	URL string `yaml:"url" env:"URL"`
	// 求值地址，为空时与 URL 相同（服务按请求体区分）
	EvalURL string `yaml:"eval_url" env:"EVAL_URL"`
	// 单次往返超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 客户端限流（0 表示不限流）
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" env:"MAX_REQUESTS_PER_SECOND"`
	// 响应体上限
	MaxResponseBytes int64 `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
	// 额外请求头（仅 YAML）
	Headers map[string]string `yaml:"headers" env:"-"`
}

// EvalEndpoint 返回求值请求使用的地址
func (c EndpointConfig) EvalEndpoint() string {
	if c.EvalURL != "" {
		return c.EvalURL
	}
	return c.URL
}

// SessionConfig LSP 会话配置
type SessionConfig struct {
	// 请求体中的 FormulaType
	FormulaType int `yaml:"formula_type" env:"FORMULA_TYPE"`
	// didOpen 中的 languageId
	LanguageID string `yaml:"language_id" env:"LANGUAGE_ID"`
	// 等待关联响应的墙钟超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 未匹配请求允许经历的往返次数
	MaxPendingRoundTrips int `yaml:"max_pending_round_trips" env:"MAX_PENDING_ROUND_TRIPS"`
}

// EditorConfig 编辑器层 LSP 开关
type EditorConfig struct {
	// 实体逻辑名，用于构造文档 URI
	EntityName string `yaml:"entity_name" env:"ENTITY_NAME"`
	// 关闭 didOpen 通知
	DisableDidOpen bool `yaml:"disable_did_open" env:"DISABLE_DID_OPEN"`
	// 关闭 didChange 通知
	DisableDidChange bool `yaml:"disable_did_change" env:"DISABLE_DID_CHANGE"`
	// 关闭补全请求
	DisableCompletion bool `yaml:"disable_completion" env:"DISABLE_COMPLETION"`
	// 开启签名帮助请求
	EnableSignatureHelp bool `yaml:"enable_signature_help" env:"ENABLE_SIGNATURE_HELP"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Prometheus 命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// /metrics 监听地址（为空则不暴露）
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FORMULABAR",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 按 env 标签把 PREFIX_SECTION_FIELD 覆盖到配置上，空值忽略
func (l *Loader) loadFromEnv(cfg *Config) error {
	return walkEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, func(key string, field reflect.Value) error {
		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" {
			return nil
		}
		if err := parseInto(field, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", key, raw, err)
		}
		return nil
	})
}

// walkEnv 深度优先访问带 env 标签的字段，嵌套结构体的键以父键为前缀
func walkEnv(v reflect.Value, prefix string, visit func(key string, field reflect.Value) error) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		var err error
		if field.Kind() == reflect.Struct {
			err = walkEnv(field, key, visit)
		} else {
			err = visit(key, field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseInto 解析 raw 并写入字段。切片按逗号拆分。
func parseInto(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Endpoint.URL == "" {
		errs = append(errs, "endpoint url is required")
	} else if u, err := url.Parse(c.Endpoint.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "endpoint url must be an absolute http(s) url")
	}
	if c.Endpoint.Timeout <= 0 {
		errs = append(errs, "endpoint timeout must be positive")
	}
	if c.Endpoint.MaxRequestsPerSecond < 0 {
		errs = append(errs, "max_requests_per_second must not be negative")
	}

	if c.Session.FormulaType <= 0 {
		errs = append(errs, "formula_type must be positive")
	}
	if c.Session.RequestTimeout <= 0 {
		errs = append(errs, "request_timeout must be positive")
	}
	if c.Session.MaxPendingRoundTrips <= 0 {
		errs = append(errs, "max_pending_round_trips must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
