package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const (
	// LSPPath 假服务端的 lsp 端点路径
	LSPPath = "/lsp"
	// EvalPath 假服务端的 eval 端点路径
	EvalPath = "/eval"
)

// Request 假服务端收到的一次 lsp 发送
type Request struct {
	FormulaType int
	Parameters  string
	Envelope    string

	ID     string
	Method string
	Params json.RawMessage
}

// Version 返回 didOpen/didChange 中的文档版本，其他方法返回 0
func (r Request) Version() int {
	var p struct {
		TextDocument struct {
			Version int `json:"version"`
		} `json:"textDocument"`
	}
	_ = json.Unmarshal(r.Params, &p)
	return p.TextDocument.Version
}

// Responder 为某个方法生成应答信封
type Responder func(req Request) []string

// EvalHandler 处理 eval 请求，errMsg 非空时作为 error 字段返回
type EvalHandler func(context, expression string) (result, errMsg string)

// FakeServer 按批次语义工作的假公式服务端。
// 每个响应携带应答与所有排队的推送。
type FakeServer struct {
	server *httptest.Server

	mu         sync.Mutex
	requests   []Request
	responders map[string]Responder
	queued     []string
	status     int
	latency    func() time.Duration
	eval       EvalHandler
}

// NewFakeServer 启动假服务端，测试结束时自动关闭
func NewFakeServer(t *testing.T) *FakeServer {
	t.Helper()
	f := &FakeServer{responders: make(map[string]Responder)}

	mux := http.NewServeMux()
	mux.HandleFunc(LSPPath, f.serveLSP)
	mux.HandleFunc(EvalPath, f.serveEval)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// LSPURL lsp 端点地址
func (f *FakeServer) LSPURL() string { return f.server.URL + LSPPath }

// EvalURL eval 端点地址
func (f *FakeServer) EvalURL() string { return f.server.URL + EvalPath }

// Handle 为方法注册应答
func (f *FakeServer) Handle(method string, r Responder) {
	f.mu.Lock()
	f.responders[method] = r
	f.mu.Unlock()
}

// HandleEval 注册 eval 处理函数
func (f *FakeServer) HandleEval(h EvalHandler) {
	f.mu.Lock()
	f.eval = h
	f.mu.Unlock()
}

// Push 排队原始信封，随下一次响应返回
func (f *FakeServer) Push(envelopes ...string) {
	f.mu.Lock()
	f.queued = append(f.queued, envelopes...)
	f.mu.Unlock()
}

// PushNotification 排队一条推送通知
func (f *FakeServer) PushNotification(method string, params any) {
	f.Push(Notification(method, params))
}

// FailWith 之后的请求都以该状态码失败，0 恢复正常
func (f *FakeServer) FailWith(status int) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

// WithLatency 为每个请求注入延迟
func (f *FakeServer) WithLatency(fn func() time.Duration) {
	f.mu.Lock()
	f.latency = fn
	f.mu.Unlock()
}

// Requests 返回目前收到的所有请求
func (f *FakeServer) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// RequestsFor 返回某方法的请求
func (f *FakeServer) RequestsFor(method string) []Request {
	var out []Request
	for _, r := range f.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (f *FakeServer) serveLSP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var in struct {
		FormulaBody string `json:"FormulaBody"`
		FormulaType int    `json:"FormulaType"`
		Parameters  string `json:"Parameters"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var env struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	_ = json.Unmarshal([]byte(in.FormulaBody), &env)

	req := Request{
		FormulaType: in.FormulaType,
		Parameters:  in.Parameters,
		Envelope:    in.FormulaBody,
		Method:      env.Method,
		Params:      env.Params,
	}
	if len(env.ID) > 0 {
		_ = json.Unmarshal(env.ID, &req.ID)
	}

	f.mu.Lock()
	latency := f.latency
	status := f.status
	f.mu.Unlock()

	if latency != nil {
		time.Sleep(latency())
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	if status != 0 {
		f.mu.Unlock()
		http.Error(w, "injected failure", status)
		return
	}
	responder := f.responders[req.Method]
	f.mu.Unlock()

	var out []string
	if responder != nil {
		out = responder(req)
	}

	f.mu.Lock()
	out = append(out, f.queued...)
	f.queued = nil
	f.mu.Unlock()

	if out == nil {
		out = []string{}
	}
	writeJSON(w, map[string]any{"LanguageServerData": out})
}

func (f *FakeServer) serveEval(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Context    string `json:"context"`
		Expression string `json:"expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	h := f.eval
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, "injected failure", status)
		return
	}
	if h == nil {
		http.Error(w, "no eval handler", http.StatusNotImplemented)
		return
	}

	result, errMsg := h(in.Context, in.Expression)
	out := map[string]string{}
	if errMsg != "" {
		out["error"] = errMsg
	} else {
		out["result"] = result
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// ✉️ 信封构造
// =============================================================================

// Response 构造成功响应信封
func Response(id string, result any) string {
	return MustJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

// ErrorResponse 构造错误响应信封
func ErrorResponse(id string, code int, message string) string {
	return MustJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

// Notification 构造通知信封
func Notification(method string, params any) string {
	return MustJSON(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}
