package cache

import (
	"strings"
	"time"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// Infinite denotes "never expire" in Policy.MaxAge.
const Infinite = time.Duration(-1)

// Policy is the cacheability classification for a single request.
type Policy struct {
	Cacheable bool
	MaxAge    time.Duration
}

var immutableMethods = map[string]bool{
	"eth_chainId":               true,
	"net_version":               true,
	"eth_getTransactionReceipt": true,
	"eth_getTransactionByHash":  true,
}

var historicalConditionalMethods = map[string]bool{
	"eth_call":             true,
	"eth_getBlockByNumber": true,
	"eth_getLogs":          true,
	"eth_getStorageAt":     true,
	"eth_getBalance":       true,
}

var ambiguousBlockTags = map[string]bool{
	"earliest":  true,
	"safe":      true,
	"finalized": true,
}

var dynamicBlockTags = map[string]bool{
	"latest":  true,
	"pending": true,
}

// Classify returns the cacheability policy for (method, params) per the
// class table in spec §4.4. defaultTTL is the configured "latest tick" TTL
// (e.g. eth_blockNumber, default 10s); historicalTTL is the TTL applied to
// non-fixed eth_call/eth_getLogs requests.
func Classify(method string, params []rpctypes.Param, defaultTTL, historicalTTL time.Duration) Policy {
	switch {
	case immutableMethods[method]:
		return Policy{Cacheable: true, MaxAge: Infinite}

	case method == "eth_blockNumber":
		return Policy{Cacheable: true, MaxAge: defaultTTL}

	case historicalConditionalMethods[method]:
		if isHistoricalFixed(method, params) {
			return Policy{Cacheable: true, MaxAge: Infinite}
		}
		if method == "eth_call" || method == "eth_getLogs" {
			return Policy{Cacheable: true, MaxAge: historicalTTL}
		}
		return Policy{Cacheable: false}

	default:
		return Policy{Cacheable: false}
	}
}

// isHistoricalFixed implements the "historical-fixed" predicate of spec §4.4.
func isHistoricalFixed(method string, params []rpctypes.Param) bool {
	switch method {
	case "eth_call":
		if len(params) >= 2 && isFixedHexBlockTag(params[1]) {
			return true
		}
		if len(params) >= 1 && params[0].Kind == rpctypes.KindObject {
			if _, ok := params[0].Object["blockHash"]; ok {
				return true
			}
		}
		return false

	case "eth_getBlockByNumber":
		return len(params) >= 1 && isFixedHexBlockTag(params[0])

	case "eth_getLogs":
		if len(params) == 0 || params[0].Kind != rpctypes.KindObject {
			return false
		}
		toBlock, ok := params[0].Object["toBlock"]
		if !ok {
			return false
		}
		return isFixedHexBlockTag(toBlock)

	case "eth_getStorageAt":
		return len(params) >= 3 && isFixedHexBlockTag(params[2])

	case "eth_getBalance":
		return len(params) >= 2 && isFixedHexBlockTag(params[1])

	default:
		return false
	}
}

// isFixedHexBlockTag reports whether p is a hex block number (leading "0x"),
// as opposed to a named tag ("latest", "pending") or an ambiguous tag
// ("earliest", "safe", "finalized") which spec §4.4/§9 treats as not fixed.
func isFixedHexBlockTag(p rpctypes.Param) bool {
	if p.Kind != rpctypes.KindString {
		return false
	}
	lower := strings.ToLower(p.String)
	if dynamicBlockTags[lower] || ambiguousBlockTags[lower] {
		return false
	}
	return strings.HasPrefix(lower, "0x")
}
