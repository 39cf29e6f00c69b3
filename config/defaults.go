// =============================================================================
// 📦 formulabar 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Endpoint:  DefaultEndpointConfig(),
		Session:   DefaultSessionConfig(),
		Editor:    DefaultEditorConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultEndpointConfig 返回默认端点配置（URL 必须由调用方提供）
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		URL:                  "",
		Timeout:              30 * time.Second,
		MaxRequestsPerSecond: 0,
		MaxResponseBytes:     8 << 20,
		Headers:              map[string]string{},
	}
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		FormulaType:          1,
		LanguageID:           "powerfx",
		RequestTimeout:       10 * time.Second,
		MaxPendingRoundTrips: 3,
	}
}

// DefaultEditorConfig 返回默认编辑器开关，签名帮助默认关闭
func DefaultEditorConfig() EditorConfig {
	return EditorConfig{
		EntityName:          "",
		DisableDidOpen:      false,
		DisableDidChange:    false,
		DisableCompletion:   false,
		EnableSignatureHelp: false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "formulabar",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:  "formulabar",
		ListenAddr: "",
	}
}
