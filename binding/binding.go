package binding

import (
	"encoding/json"
	"strings"
)

// DefaultFormulaContext 无记录可用时的公式上下文
const DefaultFormulaContext = "getExpressionType=true&localeName=en-US&getTokensFlags=1"

// Keep 报告记录键是否可以作为参数
func Keep(key string) bool {
	return !strings.HasPrefix(key, "_") &&
		!strings.Contains(key, "@") &&
		!strings.Contains(key, ".")
}

// FilterRecord 返回只含可用键的新记录，不修改输入
func FilterRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		if Keep(k) {
			out[k] = v
		}
	}
	return out
}

// BindParameters 序列化过滤后的记录。过滤后为空时返回空串，会话据此省略 Parameters。
func BindParameters(record map[string]any) (string, error) {
	filtered := FilterRecord(record)
	if len(filtered) == 0 {
		return "", nil
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
