// Package handler implements the thin HTTP collaborator layer that decodes
// JSON-RPC requests off the wire, dispatches them through core.Core, and
// exposes the operational side-channel endpoints (spec §6).
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/superfluid-org/super-rpc/core"
	"github.com/superfluid-org/super-rpc/metrics"
	"github.com/superfluid-org/super-rpc/network"
	"github.com/superfluid-org/super-rpc/rpctypes"
)

// requestTimeout is the deadline of the context handed to the core for a
// single call. The dispatcher observes it while waiting on a network's rate
// limiter and between fallback retries; each upstream request is bounded
// separately by its network's RequestTimeout.
const requestTimeout = 30 * time.Second

// NewMux builds the route table described by spec §6: POST / and POST
// /{network} serve JSON-RPC traffic, the remaining routes are operational.
func NewMux(c *core.Core) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", healthHandler(c))
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/stats", statsHandler(c))
	mux.HandleFunc("/cache/stats", cacheStatsHandler(c))
	mux.HandleFunc("/cache/clear", cacheClearHandler(c))
	mux.HandleFunc("/", rpcHandler(c))

	return mux
}

func rpcHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		netKey := networkSegment(r.URL.Path)

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, core.ErrorEnvelope(rpctypes.RpcID{}, err))
			return
		}

		if isBatch(raw) {
			var reqs []*rpctypes.RpcRequest
			if err := json.Unmarshal(raw, &reqs); err != nil {
				writeJSON(w, http.StatusBadRequest, core.ErrorEnvelope(rpctypes.RpcID{}, err))
				return
			}
			writeJSON(w, http.StatusOK, c.ServeBatch(ctx, netKey, reqs))
			return
		}

		var req rpctypes.RpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, core.ErrorEnvelope(rpctypes.RpcID{}, err))
			return
		}

		resp, err := c.Serve(ctx, netKey, &req)
		if err != nil {
			writeJSON(w, http.StatusOK, core.ErrorEnvelope(req.ID, err))
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func healthHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]network.HealthStatus, 0, len(c.Router.All()))
		for _, spec := range c.Router.All() {
			statuses = append(statuses, network.Probe(r.Context(), spec))
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

// metricsHandler serves the go-ethereum metrics registry in Prometheus text
// exposition format, distinct from the JSON snapshot served at /stats.
func metricsHandler() http.Handler {
	return metrics.Handler()
}

func statsHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		percentiles, networks := c.Stats.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"latencyUs": percentiles,
			"networks":  networks,
		})
	}
}

func cacheStatsHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, minTs, maxTs := c.CacheMgr.PersistentStats()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"memoryEntries":     c.CacheMgr.MemorySize(),
			"persistentEntries": count,
			"oldestEntry":       minTs,
			"newestEntry":       maxTs,
		})
	}
}

func cacheClearHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c.CacheMgr.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

func networkSegment(path string) string {
	return strings.Trim(path, "/")
}

func isBatch(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
