package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTripValues(t *testing.T) {
	ctx := WithMethod(context.Background(), "textDocument/completion")
	ctx = WithRequestID(ctx, "42")
	ctx = WithDocumentURI(ctx, "powerfx://formula_columns")

	m, ok := Method(ctx)
	assert.True(t, ok)
	assert.Equal(t, "textDocument/completion", m)

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	uri, ok := DocumentURI(ctx)
	assert.True(t, ok)
	assert.Equal(t, "powerfx://formula_columns", uri)
}

func TestMissingAndEmptyValues(t *testing.T) {
	_, ok := Method(context.Background())
	assert.False(t, ok)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}
