package lsp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTable_RegisterDuplicate(t *testing.T) {
	p := newPendingTable()
	_, err := p.register("a")
	require.NoError(t, err)

	_, err = p.register("a")
	assert.True(t, errors.Is(err, errDuplicateID))
	assert.Equal(t, 1, p.len())
}

func TestPendingTable_SettledExactlyOnce(t *testing.T) {
	p := newPendingTable()
	done, err := p.register("a")
	require.NoError(t, err)

	assert.True(t, p.resolve("a", json.RawMessage(`1`)))
	assert.False(t, p.resolve("a", json.RawMessage(`2`)))
	assert.False(t, p.fail("a", ErrRequestTimeout))

	r := <-done
	assert.NoError(t, r.err)
	assert.JSONEq(t, `1`, string(r.value))
	assert.Equal(t, 0, p.len())
}

func TestPendingTable_ExpireAfterRoundTrips(t *testing.T) {
	p := newPendingTable()
	done, err := p.register("a")
	require.NoError(t, err)

	// 未 arm 的条目不会过期
	assert.Equal(t, 0, p.expire(100, 3, ErrRequestTimeout))

	p.arm("a", 5)
	assert.Equal(t, 0, p.expire(5, 3, ErrRequestTimeout))
	assert.Equal(t, 0, p.expire(6, 3, ErrRequestTimeout))
	assert.Equal(t, 1, p.expire(7, 3, ErrRequestTimeout))

	r := <-done
	assert.True(t, errors.Is(r.err, ErrRequestTimeout))
}

func TestPendingTable_ArmOnlyOnce(t *testing.T) {
	p := newPendingTable()
	_, err := p.register("a")
	require.NoError(t, err)

	p.arm("a", 1)
	p.arm("a", 10)
	assert.Equal(t, 1, p.expire(3, 3, ErrRequestTimeout))
}

func TestPendingTable_SingleRoundBudget(t *testing.T) {
	p := newPendingTable()
	_, err := p.register("a")
	require.NoError(t, err)

	p.arm("a", 4)
	assert.Equal(t, 1, p.expire(4, 1, ErrRequestTimeout))
}

func TestPendingTable_Drain(t *testing.T) {
	p := newPendingTable()
	a, _ := p.register("a")
	b, _ := p.register("b")

	assert.Equal(t, 2, p.drain(ErrSessionClosed))
	assert.True(t, errors.Is((<-a).err, ErrSessionClosed))
	assert.True(t, errors.Is((<-b).err, ErrSessionClosed))
	assert.Equal(t, 0, p.len())

	p.remove("missing")
}
