package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superfluid-org/super-rpc/cache"
	"github.com/superfluid-org/super-rpc/rpctypes"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type scriptedUpstream struct {
	mu       sync.Mutex
	calls    int32
	byURL    map[string][]func() ([]byte, error)
}

func newScriptedUpstream() *scriptedUpstream {
	return &scriptedUpstream{byURL: make(map[string][]func() ([]byte, error))}
}

func (s *scriptedUpstream) script(url string, fns ...func() ([]byte, error)) {
	s.byURL[url] = fns
}

func (s *scriptedUpstream) Post(upstream rpctypes.UpstreamSpec, body []byte, timeout time.Duration) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.byURL[upstream.URL]
	if len(queue) == 0 {
		return []byte(`{"jsonrpc":"2.0","id":1,"result":null}`), nil
	}
	fn := queue[0]
	s.byURL[upstream.URL] = queue[1:]
	return fn()
}

func okResp(result string) func() ([]byte, error) {
	return func() ([]byte, error) {
		return []byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`), nil
	}
}

func errResp(code int, msg string) func() ([]byte, error) {
	return func() ([]byte, error) {
		body, _ := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": code, "message": msg},
		})
		return body, nil
	}
}

func newTestDispatcher(t *testing.T, upstream upstreamPoster) *Dispatcher {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mgr := cache.NewManager(cache.Config{MaxSize: 64, EnablePersistent: false, LatestTickTTL: 10 * time.Second, HistoricalTTL: time.Minute}, clk)
	return New(mgr, upstream, nil)
}

func req(t *testing.T, id int, method string, params ...string) *rpctypes.RpcRequest {
	t.Helper()
	raws := make([]json.RawMessage, len(params))
	for i, p := range params {
		raws[i] = json.RawMessage(p)
	}
	idRaw, err := json.Marshal(id)
	require.NoError(t, err)
	return &rpctypes.RpcRequest{JSONRPC: "2.0", Method: method, Params: raws, ID: rpctypes.RpcID{Raw: idRaw}}
}

var net1 = &rpctypes.NetworkSpec{
	Key:                "mainnet",
	Primary:            rpctypes.UpstreamSpec{URL: "http://primary"},
	RequestTimeout:     time.Second,
	MaxFallbackRetries: 2,
	InitialBackoff:     time.Millisecond,
}

func withFallback() *rpctypes.NetworkSpec {
	n := *net1
	n.Fallback = &rpctypes.UpstreamSpec{URL: "http://fallback"}
	return &n
}

func TestImmutableMethodCachesAfterFirstCall(t *testing.T) {
	up := newScriptedUpstream()
	up.script("http://primary", okResp(`"0x1"`))
	d := newTestDispatcher(t, up)

	r1 := req(t, 1, "eth_chainId")
	resp1, err := d.Dispatch(context.Background(), net1, r1)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x1"`), resp1.Result)

	r2 := req(t, 2, "eth_chainId")
	resp2, err := d.Dispatch(context.Background(), net1, r2)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x1"`), resp2.Result)
	assert.Equal(t, json.RawMessage("2"), resp2.ID.Raw)
	assert.EqualValues(t, 1, up.calls, "second identical request must be served from cache, not upstream")
}

func TestFallbackOnHistoricalError(t *testing.T) {
	up := newScriptedUpstream()
	up.script("http://primary", errResp(-32000, "missing trie node"))
	up.script("http://fallback", okResp(`"0x64"`))
	net := withFallback()
	d := newTestDispatcher(t, up)

	resp, err := d.Dispatch(context.Background(), net, req(t, 1, "eth_getBalance", `"0x0"`, `"0xE4E1C0"`))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x64"`), resp.Result)
}

func TestQualityCheckFallbackOnNullPrimary(t *testing.T) {
	up := newScriptedUpstream()
	up.script("http://primary", okResp(`null`))
	up.script("http://fallback", okResp(`"0xabc"`))
	net := withFallback()
	d := newTestDispatcher(t, up)

	resp, err := d.Dispatch(context.Background(), net, req(t, 1, "eth_call", `{"to":"0x0","data":"0x"}`, `"0xE4E1C0"`))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0xabc"`), resp.Result)
}

func TestBothUpstreamsFailSurfacesUpstreamUnavailable(t *testing.T) {
	up := newScriptedUpstream()
	up.script("http://primary", errResp(-32000, "missing trie node"))
	up.script("http://fallback", errResp(-32000, "missing trie node"), errResp(-32000, "missing trie node"))
	net := withFallback()
	d := newTestDispatcher(t, up)

	_, err := d.Dispatch(context.Background(), net, req(t, 1, "eth_getBalance", `"0x0"`, `"0xE4E1C0"`))
	require.Error(t, err)
	var dispErr *Error
	ok := asDispatchError(err, &dispErr)
	require.True(t, ok)
	assert.Equal(t, KindUpstreamUnavailable, dispErr.Kind)
}

func asDispatchError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

func TestSingleFlightCoalescesConcurrentIdenticalRequests(t *testing.T) {
	up := newScriptedUpstream()
	logs := `[{"address":"0xAAA","topics":[],"blockNumber":"0x1"}]`
	up.script("http://primary", okResp(logs))
	d := newTestDispatcher(t, up)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*rpctypes.RpcResponse, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := d.Dispatch(context.Background(), net1, req(t, i, "eth_getLogs", `{"address":"0xAAA","fromBlock":"0x1","toBlock":"0x2"}`))
			require.NoError(t, err)
			results[i] = resp
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, up.calls, "concurrent identical requests must coalesce into a single upstream attempt")
	for i, r := range results {
		assert.Equal(t, json.RawMessage(logs), r.Result)
		idRaw, _ := json.Marshal(i)
		assert.Equal(t, json.RawMessage(idRaw), r.ID.Raw)
	}
}

func TestFallbackInvalidResponseFallsBackToPrimaryCandidate(t *testing.T) {
	up := newScriptedUpstream()
	up.script("http://primary", okResp(`[]`))
	up.script("http://fallback", okResp(`[{"address":"0xBBB","topics":[],"blockNumber":"0x2"}]`))
	net := withFallback()
	d := newTestDispatcher(t, up)

	filter := `{"address":"0xAAA","fromBlock":"0x1","toBlock":"0x2"}`
	resp, err := d.Dispatch(context.Background(), net, req(t, 1, "eth_getLogs", filter))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`[]`), resp.Result, "fallback response fails address validation, so the valid primary candidate must win")
}

func TestFallbackInvalidResponseWithNoPrimaryCandidateSurfacesValidationReject(t *testing.T) {
	up := newScriptedUpstream()
	up.script("http://primary", errResp(-32000, "missing trie node"))
	up.script("http://fallback", okResp(`[{"address":"0xBBB","topics":[],"blockNumber":"0x2"}]`))
	net := withFallback()
	d := newTestDispatcher(t, up)

	filter := `{"address":"0xAAA","fromBlock":"0x1","toBlock":"0x2"}`
	_, err := d.Dispatch(context.Background(), net, req(t, 1, "eth_getLogs", filter))
	require.Error(t, err)
	var dispErr *Error
	ok := asDispatchError(err, &dispErr)
	require.True(t, ok)
	assert.Equal(t, KindValidationReject, dispErr.Kind)
}

func TestLimiterForUnlimitedByDefault(t *testing.T) {
	d := newTestDispatcher(t, newScriptedUpstream())
	assert.Nil(t, d.limiterFor(net1))
}

func TestLimiterForConfiguredQPSIsStablePerNetwork(t *testing.T) {
	d := newTestDispatcher(t, newScriptedUpstream())
	limited := *net1
	limited.RateLimitQPS = 5

	l1 := d.limiterFor(&limited)
	require.NotNil(t, l1)
	l2 := d.limiterFor(&limited)
	assert.Same(t, l1, l2, "the same network key must reuse one limiter instance")
}
