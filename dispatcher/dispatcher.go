// Package dispatcher orchestrates cache lookup, request coalescing, the
// primary/fallback upstream attempt with retry and backoff, and the
// write-through that follows a successful resolution (spec §4.8).
package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/superfluid-org/super-rpc/cache"
	"github.com/superfluid-org/super-rpc/fingerprint"
	"github.com/superfluid-org/super-rpc/metrics"
	"github.com/superfluid-org/super-rpc/network"
	"github.com/superfluid-org/super-rpc/rpctypes"
	"github.com/superfluid-org/super-rpc/stats"
)

const defaultQueueConcurrency = 20

// upstreamPoster is the subset of network.Client the dispatcher depends on,
// narrow enough to substitute a test double without a real HTTP transport.
type upstreamPoster interface {
	Post(upstream rpctypes.UpstreamSpec, body []byte, timeout time.Duration) ([]byte, error)
}

var _ upstreamPoster = (*network.Client)(nil)

// Dispatcher is the per-process singleton that owns the cache manager, the
// coalescer, and the per-network bounded queues.
type Dispatcher struct {
	cacheMgr  *cache.Manager
	client    upstreamPoster
	coalescer Coalescer

	queueMu sync.Mutex
	queues  map[string]chan struct{}

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	latencies *stats.Recorder
}

// New builds a Dispatcher over the given cache manager and upstream client.
func New(cacheMgr *cache.Manager, client upstreamPoster, latencies *stats.Recorder) *Dispatcher {
	return &Dispatcher{
		cacheMgr:  cacheMgr,
		client:    client,
		queues:    make(map[string]chan struct{}),
		limiters:  make(map[string]*rate.Limiter),
		latencies: latencies,
	}
}

// limiterFor returns the token-bucket limiter configured for a network's
// primary upstream, or nil when net.RateLimitQPS is unset (unlimited).
func (d *Dispatcher) limiterFor(net *rpctypes.NetworkSpec) *rate.Limiter {
	if net.RateLimitQPS <= 0 {
		return nil
	}

	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()
	l, ok := d.limiters[net.Key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(net.RateLimitQPS), int(net.RateLimitQPS)+1)
		d.limiters[net.Key] = l
	}
	return l
}

func (d *Dispatcher) queueFor(net *rpctypes.NetworkSpec) chan struct{} {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	q, ok := d.queues[net.Key]
	if !ok {
		size := net.QueueConcurrency
		if size <= 0 {
			size = defaultQueueConcurrency
		}
		q = make(chan struct{}, size)
		d.queues[net.Key] = q
	}
	return q
}

// Dispatch runs the full algorithm of spec §4.8 for a single classified
// request on network net.
func (d *Dispatcher) Dispatch(ctx context.Context, net *rpctypes.NetworkSpec, req *rpctypes.RpcRequest) (*rpctypes.RpcResponse, error) {
	start := time.Now()
	resp, err := d.dispatch(ctx, net, req)
	elapsed := time.Since(start)

	metrics.GetOrRegisterTimer("rpc/dispatch/%v/%v", net.Key, req.Method).Update(elapsed)
	if d.latencies != nil {
		d.latencies.Record(net.Key, elapsed)
		if err != nil {
			d.latencies.RecordError(net.Key)
			metrics.GetOrRegisterCounter("rpc/dispatch/%v/error", net.Key).Inc(1)
		}
	}
	return resp, err
}

func (d *Dispatcher) dispatch(ctx context.Context, net *rpctypes.NetworkSpec, req *rpctypes.RpcRequest) (*rpctypes.RpcResponse, error) {
	params := req.NormalizedParams()
	key := fingerprint.Fingerprint(net.Key, req.Method, params)
	policy := cache.Classify(req.Method, params, d.cacheMgr.LatestTickTTL(), d.cacheMgr.HistoricalTTL())

	if policy.Cacheable {
		if resp, ok := d.cacheMgr.Lookup(key, policy.MaxAge, req.ID); ok {
			return resp, nil
		}
	}

	resp, err := d.coalescer.Join(key, req.ID, func() (*rpctypes.RpcResponse, error) {
		queue := d.queueFor(net)
		select {
		case queue <- struct{}{}:
			defer func() { <-queue }()
		default:
			return nil, errUpstreamUnavailable("request queue full for network " + net.Key)
		}

		d.cacheMgr.HandleDuplicateWindow(key)
		return d.attempt(ctx, net, req, key, policy, params)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt implements steps 5-8 of spec §4.8's dispatch algorithm. It always
// runs with req.ID as the leader's own id; the coalescer rewrites ids for
// joiners afterward.
func (d *Dispatcher) attempt(ctx context.Context, net *rpctypes.NetworkSpec, req *rpctypes.RpcRequest, key string, policy cache.Policy, params []rpctypes.Param) (*rpctypes.RpcResponse, error) {
	historicalFixed := policy.Cacheable && policy.MaxAge == cache.Infinite

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamUnavailable, Message: "failed to encode request: " + err.Error()}
	}

	if limiter := d.limiterFor(net); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindUpstreamUnavailable, Message: "rate limit wait: " + err.Error()}
		}
	}

	primaryResp, primaryErr := d.callUpstream(ctx, net.Primary, body, net.RequestTimeout)

	var primaryCandidate *rpctypes.RpcResponse
	needsFallback := false

	switch {
	case primaryErr != nil:
		upErr, _ := primaryErr.(*network.UpstreamError)
		if upErr == nil || upErr.Kind == network.KindTransportFatal || upErr.Kind == network.KindTransportTransient ||
			upErr.Kind == network.KindClientError {
			needsFallback = true
		}

	case primaryResp.IsSuccess():
		if d.validate(req.Method, params, primaryResp.Result) {
			primaryCandidate = primaryResp
			if FallbackWorthy(req.Method, primaryResp.Result, historicalFixed) && net.HasFallback() {
				needsFallback = true
			} else {
				return d.finalize(key, policy, primaryResp)
			}
		} else {
			// ValidationReject: still the best answer we have if there is no
			// fallback to improve on it.
			if !net.HasFallback() {
				return primaryResp, nil
			}
			needsFallback = true
		}

	default: // well-formed JSON-RPC error
		if IsHistoricalDataError(primaryResp.Error) && net.HasFallback() {
			needsFallback = true
		} else {
			return d.finalize(key, policy, primaryResp)
		}
	}

	if !needsFallback || !net.HasFallback() {
		if primaryErr != nil {
			return nil, errUpstreamUnavailable(primaryErr.Error())
		}
		return d.finalize(key, policy, primaryResp)
	}

	fallbackResp, fallbackErr := d.attemptFallbackWithRetry(ctx, net, body)
	if fallbackErr == nil {
		if fallbackResp.IsSuccess() && d.validate(req.Method, params, fallbackResp.Result) {
			return d.finalize(key, policy, fallbackResp)
		}
		if primaryCandidate != nil {
			return d.finalize(key, policy, primaryCandidate)
		}
		if !fallbackResp.IsSuccess() {
			return nil, errUpstreamUnavailable(fallbackResp.Error.Message)
		}
		return nil, &Error{Kind: KindValidationReject, Message: "fallback response failed validation for method " + req.Method}
	}

	if primaryCandidate != nil {
		return d.finalize(key, policy, primaryCandidate)
	}
	return nil, errUpstreamUnavailable(fallbackErr.Error())
}

// attemptFallbackWithRetry implements step 6 of spec §4.8.
func (d *Dispatcher) attemptFallbackWithRetry(ctx context.Context, net *rpctypes.NetworkSpec, body []byte) (*rpctypes.RpcResponse, error) {
	delay := net.InitialBackoff
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	var lastErr error
	attempts := net.MaxFallbackRetries + 1 // one initial attempt plus the retries
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		resp, err := d.callUpstream(ctx, *net.Fallback, body, net.RequestTimeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		upErr, ok := err.(*network.UpstreamError)
		if ok && !upErr.Retryable() {
			return nil, lastErr
		}

		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay = nextBackoff(delay)
		}
	}
	return nil, lastErr
}

func (d *Dispatcher) callUpstream(ctx context.Context, upstream rpctypes.UpstreamSpec, body []byte, timeout time.Duration) (*rpctypes.RpcResponse, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	raw, err := d.client.Post(upstream, body, timeout)
	if err != nil {
		return nil, err
	}
	var resp rpctypes.RpcResponse
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
		return nil, &network.UpstreamError{Kind: network.KindTransportTransient, Err: jsonErr}
	}
	return &resp, nil
}

func (d *Dispatcher) validate(method string, params []rpctypes.Param, result json.RawMessage) bool {
	if method == "eth_getLogs" && len(params) >= 1 && params[0].Kind == rpctypes.KindObject {
		return cache.ValidateLogs(params[0], result)
	}
	return cache.ValidateResult(result)
}

// finalize writes the response through to the cache (if cacheable and
// valid) and returns it as the dispatch result, implementing step 8.
func (d *Dispatcher) finalize(key string, policy cache.Policy, resp *rpctypes.RpcResponse) (*rpctypes.RpcResponse, error) {
	if policy.Cacheable && resp.IsSuccess() {
		d.cacheMgr.Store(key, resp)
	}
	if !resp.IsSuccess() {
		logrus.WithField("key", key).WithField("rpcError", resp.Error).Debug("final response is an rpc error")
	}
	return resp, nil
}

// Close releases dispatcher-owned resources.
func (d *Dispatcher) Close() error {
	return d.cacheMgr.Close()
}
