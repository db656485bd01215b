package rpctypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamFromRawKinds(t *testing.T) {
	cases := []struct {
		raw  string
		kind ParamKind
	}{
		{`null`, KindNull},
		{`true`, KindBool},
		{`42`, KindNumber},
		{`"hi"`, KindString},
		{`[1,2]`, KindArray},
		{`{"a":1}`, KindObject},
	}
	for _, c := range cases {
		p := ParamFromRaw(json.RawMessage(c.raw))
		assert.Equal(t, c.kind, p.Kind, "raw=%s", c.raw)
	}
}

func TestRpcIDRoundTrip(t *testing.T) {
	var id RpcID
	require.NoError(t, json.Unmarshal([]byte("7"), &id))
	out, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, "7", string(out))
}

func TestRpcIDNilMarshalsNull(t *testing.T) {
	var id RpcID
	out, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestCacheEntryToResponseWrapsBareResult(t *testing.T) {
	entry := &CacheEntry{Payload: json.RawMessage(`"0x1"`)}
	var id RpcID
	require.NoError(t, json.Unmarshal([]byte("5"), &id))

	resp, err := entry.ToResponse(id)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x1"`), resp.Result)
	assert.Equal(t, "5", string(resp.ID.Raw))
}

func TestCacheEntryToResponseUnwrapsEnvelope(t *testing.T) {
	entry := &CacheEntry{Payload: json.RawMessage(`{"jsonrpc":"2.0","id":1,"result":"0x2"}`)}
	var id RpcID
	require.NoError(t, json.Unmarshal([]byte("9"), &id))

	resp, err := entry.ToResponse(id)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x2"`), resp.Result)
	assert.Equal(t, "9", string(resp.ID.Raw))
}

func TestNetworkSpecHasFallback(t *testing.T) {
	n := &NetworkSpec{Key: "eth"}
	assert.False(t, n.HasFallback())
	n.Fallback = &UpstreamSpec{URL: "https://fallback"}
	assert.True(t, n.HasFallback())
}
