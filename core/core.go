// Package core wires the cache manager, dispatcher and network router into
// the single long-lived value the rest of the system depends on, matching
// spec §1's "consumes a classified RpcRequest, a NetworkSpec, and a Clock;
// exposes Serve(req) -> Response" contract.
package core

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/superfluid-org/super-rpc/cache"
	"github.com/superfluid-org/super-rpc/clock"
	"github.com/superfluid-org/super-rpc/dispatcher"
	"github.com/superfluid-org/super-rpc/network"
	"github.com/superfluid-org/super-rpc/rpctypes"
	"github.com/superfluid-org/super-rpc/stats"
)

// defaultSweepInterval is the hourly sweep cadence of spec §4.5.
const defaultSweepInterval = time.Hour

// Core is the top-level service value: the only process-wide state is the
// LRU, the KV handle and the inflight map, all owned here (spec §9).
type Core struct {
	Router     *network.Router
	Dispatcher *dispatcher.Dispatcher
	CacheMgr   *cache.Manager
	Stats      *stats.Recorder
	Clock      clock.Clock
}

// Options configures a new Core.
type Options struct {
	Cache           cache.Config
	CacheMaxAge     time.Duration // 0 disables the periodic sweep (spec §4.5)
	MaxConnsPerHost int
	SweepInterval   time.Duration // 0 uses the spec default of one hour
	Networks        map[string]*rpctypes.NetworkSpec
	NetworkOrder    []string
	Clock           clock.Clock
}

// New builds a Core ready to Serve requests.
func New(opts Options) *Core {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	cacheMgr := cache.NewManager(opts.Cache, clk)

	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	cacheMgr.StartSweeper(opts.CacheMaxAge, sweepInterval)

	client := network.NewClient(opts.MaxConnsPerHost)
	recorder := stats.NewRecorder()
	disp := dispatcher.New(cacheMgr, client, recorder)
	router := network.NewRouter(opts.Networks, opts.NetworkOrder)

	return &Core{
		Router:     router,
		Dispatcher: disp,
		CacheMgr:   cacheMgr,
		Stats:      recorder,
		Clock:      clk,
	}
}

// Serve dispatches a single classified request against the network
// identified by networkSegment.
func (c *Core) Serve(ctx context.Context, networkSegment string, req *rpctypes.RpcRequest) (*rpctypes.RpcResponse, error) {
	net, err := c.Router.Resolve(networkSegment)
	if err != nil {
		return nil, err
	}
	return c.Dispatcher.Dispatch(ctx, net, req)
}

// ServeBatch dispatches every sub-request of a JSON-RPC batch through the
// same core path concurrently (spec §6), preserving the caller's ordering
// in the result slice regardless of completion order.
func (c *Core) ServeBatch(ctx context.Context, networkSegment string, reqs []*rpctypes.RpcRequest) []*rpctypes.RpcResponse {
	out := make([]*rpctypes.RpcResponse, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range reqs {
		i, r := i, r
		g.Go(func() error {
			resp, err := c.Serve(gctx, networkSegment, r)
			if err != nil {
				out[i] = errorEnvelope(r.ID, err)
				return nil
			}
			out[i] = resp
			return nil
		})
	}
	_ = g.Wait() // sub-requests never return a joined error; each fault is captured per-slot

	return out
}

func errorEnvelope(id rpctypes.RpcID, err error) *rpctypes.RpcResponse {
	code, msg, data := classifyForWire(err)
	return &rpctypes.RpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpctypes.RpcError{Code: code, Message: msg, Data: data},
	}
}

// ErrorEnvelope exposes errorEnvelope for the thin HTTP collaborator layer.
func ErrorEnvelope(id rpctypes.RpcID, err error) *rpctypes.RpcResponse {
	return errorEnvelope(id, err)
}

func classifyForWire(err error) (int, string, json.RawMessage) {
	if dispErr, ok := err.(*dispatcher.Error); ok {
		data, _ := json.Marshal(dispErr.Message)
		return -32000, "Upstream error", data
	}

	data, _ := json.Marshal(err.Error())
	return -32000, "Upstream error", data
}

// Close releases all core-owned resources.
func (c *Core) Close() error {
	return c.Dispatcher.Close()
}
