package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const jsonrpcVersion = "2.0"

// Message JSON-RPC 2.0 消息的线上形态
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// EnvelopeKind 解码后消息的种类
type EnvelopeKind int

const (
	KindRequest EnvelopeKind = iota + 1
	KindResponse
	KindNotification
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Envelope 已分类的入站消息。ID 已规范为字符串形式。
type Envelope struct {
	Kind EnvelopeKind
	ID   string
	Message
}

// EncodeRequest 编码一个带 id 的请求
func EncodeRequest(method string, params any, id string) (string, error) {
	if method == "" {
		return "", fmt.Errorf("%w: request without method", ErrProtocolViolation)
	}
	if id == "" {
		return "", fmt.Errorf("%w: request without id", ErrProtocolViolation)
	}
	rawID, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return encode(Message{ID: rawID, Method: method}, params)
}

// EncodeNotification 编码一个不带 id 的通知
func EncodeNotification(method string, params any) (string, error) {
	if method == "" {
		return "", fmt.Errorf("%w: notification without method", ErrProtocolViolation)
	}
	return encode(Message{Method: method}, params)
}

func encode(msg Message, params any) (string, error) {
	msg.JSONRPC = jsonrpcVersion
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("marshal %s params: %w", msg.Method, err)
		}
		msg.Params = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", msg.Method, err)
	}
	return string(data), nil
}

// Decode 解析一条原始消息并分类。
// 无法解析、既无 id 也无 method、或只有 id 却没有 result/error 的消息都视为畸形。
func Decode(raw string) (*Envelope, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	id, err := normalizeID(msg.ID)
	if err != nil {
		return nil, err
	}
	env := &Envelope{ID: id, Message: msg}

	hasID := id != ""
	switch {
	case hasID && msg.Method != "":
		env.Kind = KindRequest
	case hasID && (len(msg.Result) > 0 || msg.Error != nil):
		env.Kind = KindResponse
	case !hasID && msg.Method != "":
		env.Kind = KindNotification
	case hasID:
		return nil, fmt.Errorf("%w: response %s without result or error", ErrMalformedMessage, id)
	default:
		return nil, fmt.Errorf("%w: neither id nor method", ErrMalformedMessage)
	}
	return env, nil
}

// normalizeID 把字符串或数字 id 统一成字符串；null 视为缺失
func normalizeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: bad id: %v", ErrMalformedMessage, err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: id must be string or number", ErrMalformedMessage)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}
