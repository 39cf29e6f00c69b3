package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// lspRequestBody 每次 lsp 发送的 HTTP 请求体
type lspRequestBody struct {
	FormulaBody string `json:"FormulaBody"`
	FormulaType int    `json:"FormulaType"`
	Parameters  string `json:"Parameters,omitempty"`
}

// lspResponseBody 每次 lsp 往返的 HTTP 响应体，携带所有待推送的服务端消息
type lspResponseBody struct {
	LanguageServerData []json.RawMessage `json:"LanguageServerData"`
}

func encodeRequestBody(envelope string, formulaType int, parameters string) (string, error) {
	data, err := json.Marshal(lspRequestBody{
		FormulaBody: envelope,
		FormulaType: formulaType,
		Parameters:  parameters,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeResponseBody 把响应体展开为原始消息批次。
// 元素通常是 JSON 字符串形式的信封，直接内嵌的对象也接受。空响应体即空批次。
func decodeResponseBody(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var resp lspResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: response body: %v", ErrMalformedMessage, err)
	}
	batch := make([]string, 0, len(resp.LanguageServerData))
	for _, raw := range resp.LanguageServerData {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				batch = append(batch, s)
				continue
			}
		}
		batch = append(batch, string(raw))
	}
	return batch, nil
}
