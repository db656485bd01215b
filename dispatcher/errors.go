package dispatcher

import (
	"fmt"
	"strings"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// Kind is the final error kind the dispatcher surfaces above itself,
// per spec §7.
type Kind int

const (
	KindUpstreamUnavailable Kind = iota
	KindValidationReject
)

// Error is the dispatcher's final, categorised error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func errUpstreamUnavailable(detail string) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: fmt.Sprintf("upstream unavailable: %s", detail)}
}

// historicalErrorSignatures are case-insensitive message substrings
// indicating the node lacks requested archival state (spec §4.8).
var historicalErrorSignatures = []string{
	"missing trie node",
	"header not found",
	"unknown block",
	"state not available",
	"historical state",
	"is not available",
}

// IsHistoricalDataError reports whether a JSON-RPC error matches the
// historical-data error signature taxonomy of spec §4.8.
func IsHistoricalDataError(rpcErr *rpctypes.RpcError) bool {
	if rpcErr == nil {
		return false
	}
	if rpcErr.Code == -32801 {
		return true
	}
	if rpcErr.Code == -32000 && strings.Contains(strings.ToLower(rpcErr.Message), "network error") {
		return true
	}
	lower := strings.ToLower(rpcErr.Message)
	for _, sig := range historicalErrorSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// criticalMethods is the method set the quality check applies to (spec
// §4.8).
var criticalMethods = map[string]bool{
	"eth_call":                                true,
	"eth_getLogs":                             true,
	"eth_getBlockByNumber":                    true,
	"eth_getBlockByHash":                      true,
	"eth_getBlockReceipts":                    true,
	"eth_getTransactionReceipt":               true,
	"eth_getStorageAt":                        true,
	"eth_getBalance":                          true,
	"eth_getCode":                             true,
	"eth_getTransactionByHash":                true,
	"eth_getTransactionByBlockHashAndIndex":   true,
	"eth_getTransactionByBlockNumberAndIndex": true,
}

// FallbackWorthy implements the quality check of spec §4.8: a successful
// primary response may still warrant a fallback attempt if its result looks
// like the node lagging or missing data rather than a genuine answer.
func FallbackWorthy(method string, result []byte, historicalFixed bool) bool {
	if !criticalMethods[method] {
		return false
	}

	resultStr := strings.TrimSpace(string(result))
	isNullish := len(result) == 0 || resultStr == "null" || resultStr == `""`
	isEmptyArray := resultStr == "[]"
	isEmptyHex := resultStr == `"0x"`

	if isNullish {
		return true
	}
	if isEmptyArray && method != "eth_getLogs" {
		return true
	}
	if isEmptyHex && method != "eth_call" && method != "eth_getCode" {
		return true
	}

	if historicalFixed {
		if isNullish || (method == "eth_getLogs" && isEmptyArray) {
			return true
		}
		return false
	}

	// Non-historical requests on these methods may reflect a primary that
	// has not yet synced, so an empty-shaped result is fallback-worthy even
	// for eth_call's "0x", which the general rule above exempts. eth_getCode
	// is not in this set, so its "0x" stays exempt.
	switch method {
	case "eth_call", "eth_getBlockByNumber", "eth_getBlockReceipts":
		if isNullish || isEmptyArray || isEmptyHex {
			return true
		}
	}

	return false
}
