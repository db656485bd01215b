package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superfluid-org/super-rpc/cache"
	"github.com/superfluid-org/super-rpc/rpctypes"
)

func TestCoreServeAgainstRealUpstream(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req rpctypes.RpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID.Raw) + `,"result":"0x2a"}`))
	}))
	defer srv.Close()

	c := New(Options{
		Cache: cache.Config{MaxSize: 64},
		Networks: map[string]*rpctypes.NetworkSpec{
			"eth": {Key: "eth", Primary: rpctypes.UpstreamSpec{URL: srv.URL}, RequestTimeout: 2 * time.Second},
		},
		NetworkOrder: []string{"eth"},
	})
	defer c.Close()

	req := &rpctypes.RpcRequest{JSONRPC: "2.0", Method: "eth_chainId", ID: rpctypes.RpcID{Raw: json.RawMessage(`1`)}}
	resp, err := c.Serve(context.Background(), "eth", req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x2a"`), resp.Result)

	// eth_chainId is immutable: the second call must be served from cache,
	// not a second upstream round trip.
	resp2, err := c.Serve(context.Background(), "eth", req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x2a"`), resp2.Result)
	assert.Equal(t, 1, calls)
}

func TestCoreServeUnknownNetwork(t *testing.T) {
	c := New(Options{
		Cache:        cache.Config{MaxSize: 64},
		Networks:     map[string]*rpctypes.NetworkSpec{},
		NetworkOrder: nil,
	})
	defer c.Close()

	_, err := c.Serve(context.Background(), "nowhere", &rpctypes.RpcRequest{})
	require.Error(t, err)
}

func TestCoreServeBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpctypes.RpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID.Raw) + `,"result":"0x` + req.Method[len(req.Method)-1:] + `"}`))
	}))
	defer srv.Close()

	c := New(Options{
		Cache: cache.Config{MaxSize: 64},
		Networks: map[string]*rpctypes.NetworkSpec{
			"eth": {Key: "eth", Primary: rpctypes.UpstreamSpec{URL: srv.URL}, RequestTimeout: 2 * time.Second},
		},
		NetworkOrder: []string{"eth"},
	})
	defer c.Close()

	reqs := []*rpctypes.RpcRequest{
		{JSONRPC: "2.0", Method: "eth_method1", ID: rpctypes.RpcID{Raw: json.RawMessage(`1`)}},
		{JSONRPC: "2.0", Method: "eth_method2", ID: rpctypes.RpcID{Raw: json.RawMessage(`2`)}},
		{JSONRPC: "2.0", Method: "eth_method3", ID: rpctypes.RpcID{Raw: json.RawMessage(`3`)}},
	}
	out := c.ServeBatch(context.Background(), "eth", reqs)
	require.Len(t, out, 3)
	assert.Equal(t, json.RawMessage(`"0x1"`), out[0].Result)
	assert.Equal(t, json.RawMessage(`"0x2"`), out[1].Result)
	assert.Equal(t, json.RawMessage(`"0x3"`), out[2].Result)
}
