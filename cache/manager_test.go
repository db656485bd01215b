package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewManager(Config{MaxSize: 16, EnablePersistent: false}, clk)
	return m, clk
}

func respFor(t *testing.T, id int, result string) *rpctypes.RpcResponse {
	t.Helper()
	var raw json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(result), &raw))
	idRaw, err := json.Marshal(id)
	require.NoError(t, err)
	return &rpctypes.RpcResponse{
		JSONRPC: "2.0",
		ID:      rpctypes.RpcID{Raw: idRaw},
		Result:  raw,
	}
}

func TestLookupMissThenStoreThenHit(t *testing.T) {
	m, _ := newTestManager(t)

	_, ok := m.Lookup("k1", Infinite, rpctypes.RpcID{Raw: []byte("1")})
	assert.False(t, ok)

	m.Store("k1", respFor(t, 1, `"0xabc"`))

	resp, ok := m.Lookup("k1", Infinite, rpctypes.RpcID{Raw: []byte("2")})
	require.True(t, ok)
	assert.Equal(t, json.RawMessage("2"), resp.ID.Raw, "id must be rewritten to the caller's own id")
	assert.Equal(t, json.RawMessage(`"0xabc"`), resp.Result)
}

func TestLookupExpiresFiniteMaxAge(t *testing.T) {
	m, clk := newTestManager(t)
	m.Store("k1", respFor(t, 1, `"0xabc"`))

	clk.now = clk.now.Add(20 * time.Second)
	_, ok := m.Lookup("k1", 10*time.Second, rpctypes.RpcID{Raw: []byte("2")})
	assert.False(t, ok, "entries older than maxAge must never be served")
}

func TestLookupNeverExpiresInfinite(t *testing.T) {
	m, clk := newTestManager(t)
	m.Store("k1", respFor(t, 1, `"0xabc"`))

	clk.now = clk.now.Add(365 * 24 * time.Hour)
	_, ok := m.Lookup("k1", Infinite, rpctypes.RpcID{Raw: []byte("2")})
	assert.True(t, ok)
}

func TestDuplicateWindowDelaysBurst(t *testing.T) {
	m, _ := newTestManager(t)

	start := time.Now()
	m.HandleDuplicateWindow("k1")
	m.HandleDuplicateWindow("k1")
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, minDuplicateDelay, "second call within the trigger window must be delayed")
}

func TestInvalidateRemovesEntry(t *testing.T) {
	m, _ := newTestManager(t)
	m.Store("k1", respFor(t, 1, `"0xabc"`))
	m.Invalidate("k1")

	_, ok := m.Lookup("k1", Infinite, rpctypes.RpcID{Raw: []byte("2")})
	assert.False(t, ok)
}
