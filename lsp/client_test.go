package lsp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/formulabar/internal/transport"
	"github.com/BaSui01/formulabar/lsp"
	"github.com/BaSui01/formulabar/testutil"
	"github.com/BaSui01/formulabar/types"
)

const testURI = "powerfx://formula_columns?entityLogicalName=account&getExpressionType=true&localeName=en-US&getTokensFlags=1"

type recordingObserver struct {
	mu       sync.Mutex
	inbound  []string
	failOpen []string
	pending  []int
}

func (o *recordingObserver) ObserveInbound(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inbound = append(o.inbound, kind)
}

func (o *recordingObserver) ObserveFailOpen(method, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failOpen = append(o.failOpen, method+":"+reason)
}

func (o *recordingObserver) ObservePending(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, n)
}

func (o *recordingObserver) pendingReports() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *recordingObserver) failures() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.failOpen...)
}

func newTestSession(t *testing.T, srv *testutil.FakeServer, opts ...lsp.SessionOption) *lsp.Session {
	t.Helper()
	sender := transport.New(nil, zap.NewNop())
	opts = append([]lsp.SessionOption{lsp.WithLogger(zap.NewNop())}, opts...)
	sess, err := lsp.NewSession(sender, srv.LSPURL(), testURI, opts...)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func TestNewSession_Validation(t *testing.T) {
	sender := transport.SenderFunc(func(context.Context, string, transport.Operation, string) ([]byte, error) {
		return nil, nil
	})

	_, err := lsp.NewSession(nil, "http://x", testURI)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	_, err = lsp.NewSession(sender, "", testURI)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	_, err = lsp.NewSession(sender, "http://x", "")
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestSession_DidOpenDeliversEmptyDiagnostics(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	srv.Handle(lsp.MethodDidOpen, func(req testutil.Request) []string {
		return []string{testutil.Notification(lsp.MethodPublishDiagnostics, map[string]any{
			"uri":         testURI,
			"diagnostics": []any{},
		})}
	})
	sess := newTestSession(t, srv)

	var got []lsp.Diagnostic
	calls := 0
	sess.OnDiagnostics(func(p lsp.PublishDiagnosticsParams) {
		calls++
		got = p.Diagnostics
	})

	require.NoError(t, sess.NotifyDocumentOpened(testutil.TestContext(t), "1+1"))

	assert.Equal(t, 1, calls)
	require.NotNil(t, got)
	assert.Empty(t, got)

	reqs := srv.RequestsFor(lsp.MethodDidOpen)
	require.Len(t, reqs, 1)
	assert.Equal(t, 1, reqs[0].FormulaType)
	assert.Empty(t, reqs[0].Parameters)
	assert.Equal(t, lsp.InitialVersion, reqs[0].Version())
	assert.Empty(t, reqs[0].ID)

	var params lsp.DidOpenTextDocumentParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	assert.Equal(t, "powerfx", params.TextDocument.LanguageID)
	assert.Equal(t, "1+1", params.TextDocument.Text)
	assert.Equal(t, testURI, params.TextDocument.URI)
}

func TestSession_DiagnosticsPayload(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	srv.PushNotification(lsp.MethodPublishDiagnostics, map[string]any{
		"uri": testURI,
		"diagnostics": []any{map[string]any{
			"range":   map[string]any{"start": map[string]int{"line": 0, "character": 2}, "end": map[string]int{"line": 0, "character": 3}},
			"message": "Unexpected characters.",
		}},
	})
	sess := newTestSession(t, srv)

	var got lsp.PublishDiagnosticsParams
	sess.OnDiagnostics(func(p lsp.PublishDiagnosticsParams) { got = p })

	_, err := sess.ChangeDocument(testutil.TestContext(t), "1+")
	require.NoError(t, err)

	require.Len(t, got.Diagnostics, 1)
	d := got.Diagnostics[0]
	assert.Equal(t, "Unexpected characters.", d.Message)
	assert.Equal(t, lsp.SeverityError, d.Severity.Effective())
	assert.Equal(t, 3, d.Range.End.Character)
}

func TestSession_ListenerMayChangeDocument(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	srv.Handle(lsp.MethodDidOpen, func(testutil.Request) []string {
		return []string{testutil.Notification(lsp.MethodPublishDiagnostics, testutil.DiagnosticsPush(testURI))}
	})
	sess := newTestSession(t, srv)
	ctx := testutil.TestContext(t)

	var once sync.Once
	changed := make(chan error, 1)
	sess.OnDiagnostics(func(lsp.PublishDiagnosticsParams) {
		once.Do(func() {
			_, err := sess.ChangeDocument(ctx, "1+2")
			changed <- err
		})
	})

	done := make(chan error, 1)
	go func() { done <- sess.NotifyDocumentOpened(ctx, "1+1") }()

	err, ok := testutil.WaitForChannel(done, 5*time.Second)
	require.True(t, ok, "didOpen did not return")
	require.NoError(t, err)

	err, ok = testutil.WaitForChannel(changed, time.Second)
	require.True(t, ok)
	require.NoError(t, err)

	reqs := srv.RequestsFor(lsp.MethodDidChange)
	require.Len(t, reqs, 1)
	assert.Equal(t, lsp.InitialVersion+1, reqs[0].Version())
}

func TestSession_StaleDiagnosticsDropped(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	srv.Handle(lsp.MethodCompletion, func(req testutil.Request) []string {
		return []string{testutil.Response(req.ID, []any{})}
	})
	sess := newTestSession(t, srv)
	ctx := testutil.TestContext(t)

	for _, text := range []string{"1+", "1+1"} {
		_, err := sess.ChangeDocument(ctx, text)
		require.NoError(t, err)
	}
	require.Equal(t, 3, sess.Document().Version())

	push := func(message string, version *int) {
		d := testutil.DiagnosticsPush(testURI, testutil.Diagnostic(0, 0, 1, 1, message))
		if version != nil {
			d["version"] = *version
		}
		srv.PushNotification(lsp.MethodPublishDiagnostics, d)
	}
	stale, current := 2, 3
	push("stale", &stale)
	push("current", &current)
	push("unversioned", nil)

	var got []string
	sess.OnDiagnostics(func(p lsp.PublishDiagnosticsParams) {
		got = append(got, p.Diagnostics[0].Message)
	})

	_, err := sess.RequestCompletion(ctx, "1+1", 0, 3, lsp.TriggerInvoked, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"current", "unversioned"}, got)
}

func TestSession_NotifyDocumentChangedVersionCheck(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	sess := newTestSession(t, srv)
	ctx := testutil.TestContext(t)

	require.NoError(t, sess.NotifyDocumentOpened(ctx, "1"))

	err := sess.NotifyDocumentChanged(ctx, "12", 5)
	assert.True(t, errors.Is(err, lsp.ErrProtocolViolation))
	assert.Empty(t, srv.RequestsFor(lsp.MethodDidChange))

	require.NoError(t, sess.NotifyDocumentChanged(ctx, "12", 2))
	reqs := srv.RequestsFor(lsp.MethodDidChange)
	require.Len(t, reqs, 1)
	assert.Equal(t, 2, reqs[0].Version())
	assert.Equal(t, 2, sess.Document().Version())
	assert.Equal(t, "12", sess.Document().Content())

	var params lsp.DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	require.Len(t, params.ContentChanges, 1)
	assert.Equal(t, "12", params.ContentChanges[0].Text)
}

func TestSession_DidOpenResetsVersion(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	sess := newTestSession(t, srv)
	ctx := testutil.TestContext(t)

	v, err := sess.ChangeDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	require.NoError(t, sess.NotifyDocumentOpened(ctx, "b"))
	v, err = sess.ChangeDocument(ctx, "bc")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSession_VersionConsumedOnTransportFailure(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	sess := newTestSession(t, srv)
	ctx := testutil.TestContext(t)

	srv.FailWith(http.StatusBadGateway)
	_, err := sess.ChangeDocument(ctx, "a")
	assert.Equal(t, types.ErrTransport, types.GetErrorCode(err))

	srv.FailWith(0)
	v, err := sess.ChangeDocument(ctx, "ab")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestSession_ParametersAttachedWhenSet(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	sess := newTestSession(t, srv, lsp.WithParameters(`{"name":"Contoso"}`), lsp.WithFormulaType(2))
	ctx := testutil.TestContext(t)

	require.NoError(t, sess.NotifyDocumentOpened(ctx, "name"))
	sess.SetParameters("")
	_, err := sess.ChangeDocument(ctx, "name & 1")
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, `{"name":"Contoso"}`, reqs[0].Parameters)
	assert.Equal(t, 2, reqs[0].FormulaType)
	assert.Empty(t, reqs[1].Parameters)
}

func TestSession_CompletionSettledInOwnRoundTrip(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	srv.Handle(lsp.MethodCompletion, func(req testutil.Request) []string {
		return []string{testutil.Response(req.ID, map[string]any{
			"isIncomplete": true,
			"items":        []any{map[string]any{"label": "Abs", "kind": 3, "detail": "Abs(number)"}},
		})}
	})
	sess := newTestSession(t, srv)

	list, err := sess.RequestCompletion(testutil.TestContext(t), "Ab", 0, 2, lsp.TriggerCharacter, "b")
	require.NoError(t, err)
	assert.True(t, list.IsIncomplete)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Abs", list.Items[0].Label)
	assert.Equal(t, lsp.CompletionFunction, list.Items[0].Kind)
	assert.Equal(t, 0, sess.PendingCount())

	reqs := srv.RequestsFor(lsp.MethodCompletion)
	require.Len(t, reqs, 1)
	assert.NotEmpty(t, reqs[0].ID)

	var params lsp.CompletionParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	assert.Equal(t, "Ab", params.Text)
	assert.Equal(t, lsp.Position{Line: 0, Character: 2}, params.Position)
	assert.Equal(t, lsp.TriggerCharacter, params.Context.TriggerKind)
	assert.Equal(t, "b", params.Context.TriggerCharacter)
}

func TestSession_CompletionSettledInLaterBatch(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	ids := make(chan string, 1)
	srv.Handle(lsp.MethodCompletion, func(req testutil.Request) []string {
		ids <- req.ID
		return nil
	})
	sess := newTestSession(t, srv)
	ctx := testutil.TestContext(t)

	type outcome struct {
		list lsp.CompletionList
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		list, err := sess.RequestCompletion(ctx, "I", 0, 1, lsp.TriggerInvoked, "")
		done <- outcome{list, err}
	}()

	id, ok := testutil.WaitForChannel(ids, 5*time.Second)
	require.True(t, ok)
	srv.Push(testutil.Response(id, []any{map[string]any{"label": "If"}}))

	_, err := sess.ChangeDocument(ctx, "I")
	require.NoError(t, err)

	got, ok := testutil.WaitForChannel(done, 5*time.Second)
	require.True(t, ok)
	require.NoError(t, got.err)
	require.Len(t, got.list.Items, 1)
	assert.Equal(t, "If", got.list.Items[0].Label)
}

func TestSession_CompletionFailOpen(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(srv *testutil.FakeServer)
		reason string
	}{
		{
			name:   "transport failure",
			setup:  func(srv *testutil.FakeServer) { srv.FailWith(http.StatusInternalServerError) },
			reason: "transport",
		},
		{
			name: "server error",
			setup: func(srv *testutil.FakeServer) {
				srv.Handle(lsp.MethodCompletion, func(req testutil.Request) []string {
					return []string{testutil.ErrorResponse(req.ID, lsp.CodeInternalError, "boom")}
				})
			},
			reason: "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewFakeServer(t)
			tt.setup(srv)
			obs := &recordingObserver{}
			sess := newTestSession(t, srv, lsp.WithObserver(obs))

			list, err := sess.RequestCompletion(testutil.TestContext(t), "Su", 0, 2, lsp.TriggerInvoked, "")
			require.NoError(t, err)
			assert.NotNil(t, list.Items)
			assert.Empty(t, list.Items)
			assert.False(t, list.IsIncomplete)
			assert.Equal(t, []string{lsp.MethodCompletion + ":" + tt.reason}, obs.failures())
			assert.Equal(t, 0, sess.PendingCount())
		})
	}
}

func TestSession_CompletionProtocolViolations(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	srv.Handle(lsp.MethodCompletion, func(req testutil.Request) []string {
		return []string{testutil.Response(req.ID, 42)}
	})
	sess := newTestSession(t, srv)
	ctx := testutil.TestContext(t)

	_, err := sess.RequestCompletion(ctx, "x", 0, 1, lsp.CompletionTriggerKind(9), "")
	assert.True(t, errors.Is(err, lsp.ErrProtocolViolation))
	assert.Empty(t, srv.RequestsFor(lsp.MethodCompletion))

	list, err := sess.RequestCompletion(ctx, "x", 0, 1, lsp.TriggerInvoked, "")
	assert.True(t, errors.Is(err, lsp.ErrProtocolViolation))
	assert.Empty(t, list.Items)
}

func TestSession_PendingExpiresAfterRoundTrips(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	obs := &recordingObserver{}
	sess := newTestSession(t, srv,
		lsp.WithObserver(obs),
		lsp.WithRequestTimeout(0),
		lsp.WithMaxPendingRoundTrips(2))
	ctx := testutil.TestContext(t)

	done := make(chan lsp.SignatureHelp, 1)
	go func() {
		help, _ := sess.RequestSignatureHelp(ctx, "Abs(", 0, 4)
		done <- help
	}()

	// 等待请求自身的往返结束
	testutil.AssertEventuallyTrue(t, func() bool { return obs.pendingReports() >= 1 }, 5*time.Second)
	select {
	case <-done:
		t.Fatal("request settled before its round-trip budget was spent")
	default:
	}

	_, err := sess.ChangeDocument(ctx, "Abs(1")
	require.NoError(t, err)

	help, ok := testutil.WaitForChannel(done, 5*time.Second)
	require.True(t, ok)
	assert.Empty(t, help.Signatures)
	assert.Equal(t, []string{lsp.MethodSignatureHelp + ":timeout"}, obs.failures())
	assert.Equal(t, 0, sess.PendingCount())
}

func TestSession_WallClockTimeout(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	obs := &recordingObserver{}
	sess := newTestSession(t, srv, lsp.WithObserver(obs), lsp.WithRequestTimeout(50*time.Millisecond))

	start := time.Now()
	list, err := sess.RequestCompletion(testutil.TestContext(t), "x", 0, 1, lsp.TriggerInvoked, "")
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{lsp.MethodCompletion + ":timeout"}, obs.failures())
}

func TestSession_SignatureHelp(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	srv.Handle(lsp.MethodSignatureHelp, func(req testutil.Request) []string {
		return []string{testutil.Response(req.ID, map[string]any{
			"signatures": []any{map[string]any{
				"label":      "Abs(number)",
				"parameters": []any{map[string]any{"label": "number"}},
			}},
			"activeSignature": 0,
			"activeParameter": 0,
		})}
	})
	sess := newTestSession(t, srv)

	help, err := sess.RequestSignatureHelp(testutil.TestContext(t), "Abs(", 0, 4)
	require.NoError(t, err)
	require.Len(t, help.Signatures, 1)
	assert.Equal(t, "Abs(number)", help.Signatures[0].Label)

	reqs := srv.RequestsFor(lsp.MethodSignatureHelp)
	require.Len(t, reqs, 1)
	var params lsp.SignatureHelpParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	assert.Equal(t, lsp.SignatureHelpInvoked, params.Context.TriggerKind)
	assert.False(t, params.Context.IsRetrigger)
}

func TestSession_ProcessBatchSkipsMalformed(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	obs := &recordingObserver{}
	sess := newTestSession(t, srv, lsp.WithObserver(obs))

	var diags, tokens int
	sess.OnDiagnostics(func(lsp.PublishDiagnosticsParams) { diags++ })
	sess.OnTokens(func(lsp.PublishTokensParams) { tokens++ })

	processed := sess.ProcessBatch([]string{
		testutil.Notification(lsp.MethodPublishDiagnostics, testutil.DiagnosticsPush(testURI)),
		`{"jsonrpc":"2.0",`,
		testutil.Notification(lsp.MethodPublishTokens, map[string]any{"uri": testURI, "tokens": map[string]int{"Abs": 0}}),
	})

	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, diags)
	assert.Equal(t, 1, tokens)
	assert.Contains(t, obs.inbound, "malformed")
}

func TestSession_ProcessBatchDropsUnknown(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	sess := newTestSession(t, srv)

	processed := sess.ProcessBatch([]string{
		testutil.Notification("window/logMessage", map[string]any{"message": "hi"}),
		testutil.Response("nobody-waiting", 1),
		`{"jsonrpc":"2.0","id":3,"method":"workspace/configuration"}`,
	})
	assert.Equal(t, 3, processed)
	assert.Equal(t, 0, sess.PendingCount())
}

func TestSession_TokensDropUnknownTypes(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	sess := newTestSession(t, srv)

	var got map[string]lsp.TokenResultType
	sess.OnTokens(func(p lsp.PublishTokensParams) { got = p.Tokens })

	sess.ProcessBatch([]string{testutil.Notification(lsp.MethodPublishTokens, map[string]any{
		"uri":    testURI,
		"tokens": map[string]int{"Abs": 0, "name": 1, "Account": 2, "weird": 7},
	})})

	assert.Equal(t, map[string]lsp.TokenResultType{
		"Abs":     lsp.TokenFunction,
		"name":    lsp.TokenVariable,
		"Account": lsp.TokenHostSymbol,
	}, got)
}

func TestSession_ExpressionType(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	sess := newTestSession(t, srv)

	var got lsp.PublishExpressionTypeParams
	sub := sess.OnExpressionType(func(p lsp.PublishExpressionTypeParams) { got = p })

	sess.ProcessBatch([]string{testutil.Notification(lsp.MethodPublishExpressionType, map[string]any{
		"uri":  testURI,
		"type": map[string]any{"Type": "n"},
	})})
	assert.JSONEq(t, `{"Type":"n"}`, string(got.Type))

	sub.Release()
	assert.Equal(t, 0, sess.Dispatcher().Len(lsp.KindExpressionType))
}

func TestSession_CloseUnblocksPending(t *testing.T) {
	srv := testutil.NewFakeServer(t)
	obs := &recordingObserver{}
	sess := newTestSession(t, srv, lsp.WithObserver(obs), lsp.WithRequestTimeout(0))
	ctx := testutil.TestContext(t)

	done := make(chan lsp.CompletionList, 1)
	go func() {
		list, _ := sess.RequestCompletion(ctx, "x", 0, 1, lsp.TriggerInvoked, "")
		done <- list
	}()

	testutil.AssertEventuallyTrue(t, func() bool { return obs.pendingReports() >= 1 }, 5*time.Second)
	sess.Close()

	list, ok := testutil.WaitForChannel(done, 5*time.Second)
	require.True(t, ok)
	assert.Empty(t, list.Items)

	assert.True(t, errors.Is(sess.NotifyDocumentOpened(ctx, "x"), lsp.ErrSessionClosed))
	_, err := sess.ChangeDocument(ctx, "y")
	assert.True(t, errors.Is(err, lsp.ErrSessionClosed))
}

// sentVersion 从请求体中取出 didChange 的版本
func sentVersion(payload string) int {
	var body struct {
		FormulaBody string `json:"FormulaBody"`
	}
	_ = json.Unmarshal([]byte(payload), &body)
	return testutil.Request{Params: paramsOf(body.FormulaBody)}.Version()
}

func paramsOf(envelope string) json.RawMessage {
	var env struct {
		Params json.RawMessage `json:"params"`
	}
	_ = json.Unmarshal([]byte(envelope), &env)
	return env.Params
}

func TestProperty_DidChangeVersionsIncreaseByOne(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		callers := rapid.IntRange(1, 6).Draw(rt, "callers")
		perCaller := rapid.IntRange(1, 4).Draw(rt, "perCaller")
		latencies := rapid.SliceOfN(rapid.IntRange(0, 2), callers*perCaller, callers*perCaller).Draw(rt, "latencies")

		var (
			mu   sync.Mutex
			sent int
			seen []int
		)
		sender := transport.SenderFunc(func(_ context.Context, _ string, _ transport.Operation, payload string) ([]byte, error) {
			mu.Lock()
			delay := latencies[sent%len(latencies)]
			sent++
			mu.Unlock()

			time.Sleep(time.Duration(delay) * time.Millisecond)

			mu.Lock()
			seen = append(seen, sentVersion(payload))
			mu.Unlock()
			return []byte(`{"LanguageServerData":[]}`), nil
		})

		sess, err := lsp.NewSession(sender, "http://formulas.test/lsp", testURI)
		if err != nil {
			rt.Fatalf("new session: %v", err)
		}
		defer sess.Close()

		var wg sync.WaitGroup
		for c := 0; c < callers; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perCaller; i++ {
					_, _ = sess.ChangeDocument(context.Background(), "x")
				}
			}()
		}
		wg.Wait()

		if len(seen) != callers*perCaller {
			rt.Fatalf("sent %d changes, transport saw %d", callers*perCaller, len(seen))
		}
		for i, v := range seen {
			if want := lsp.InitialVersion + 1 + i; v != want {
				rt.Fatalf("change %d carried version %d, want %d (all: %v)", i, v, want, seen)
			}
		}
	})
}
