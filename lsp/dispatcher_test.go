package lsp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcher_NoListeners(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	assert.Equal(t, 0, d.Dispatch(KindDiagnostics, json.RawMessage(`{}`)))
	assert.Equal(t, 0, d.Len(KindDiagnostics))
}

func TestDispatcher_PanickingListenerDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var calls []int
	d.Subscribe(KindDiagnostics, func(json.RawMessage) {
		calls = append(calls, 1)
		panic("listener exploded")
	})
	d.Subscribe(KindDiagnostics, func(json.RawMessage) { calls = append(calls, 2) })
	d.Subscribe(KindDiagnostics, func(json.RawMessage) { calls = append(calls, 3) })

	delivered := d.Dispatch(KindDiagnostics, json.RawMessage(`{"diagnostics":[]}`))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestDispatcher_KindsAreIndependent(t *testing.T) {
	d := NewDispatcher(nil)

	var tokens, diags int
	d.Subscribe(KindTokens, func(json.RawMessage) { tokens++ })
	d.Subscribe(KindDiagnostics, func(json.RawMessage) { diags++ })

	d.Dispatch(KindTokens, nil)
	assert.Equal(t, 1, tokens)
	assert.Equal(t, 0, diags)
}

func TestSubscription_ReleaseIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil)

	var a, b int
	subA := d.Subscribe(KindTokens, func(json.RawMessage) { a++ })
	d.Subscribe(KindTokens, func(json.RawMessage) { b++ })
	require.Equal(t, 2, d.Len(KindTokens))

	subA.Release()
	subA.Release()
	assert.Equal(t, 1, d.Len(KindTokens))

	d.Dispatch(KindTokens, nil)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Release)
}

func TestDispatcher_ReleaseDuringDispatch(t *testing.T) {
	d := NewDispatcher(nil)

	var second int
	var sub *Subscription
	sub = d.Subscribe(KindTokens, func(json.RawMessage) { sub.Release() })
	d.Subscribe(KindTokens, func(json.RawMessage) { second++ })

	// 快照保证本次分发仍然送达第二个监听者
	assert.Equal(t, 2, d.Dispatch(KindTokens, nil))
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, d.Len(KindTokens))
}

func TestKindForMethod(t *testing.T) {
	k, ok := KindForMethod(MethodPublishDiagnostics)
	assert.True(t, ok)
	assert.Equal(t, KindDiagnostics, k)

	k, ok = KindForMethod(MethodPublishExpressionType)
	assert.True(t, ok)
	assert.Equal(t, KindExpressionType, k)

	_, ok = KindForMethod("window/logMessage")
	assert.False(t, ok)
}
