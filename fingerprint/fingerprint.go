// Package fingerprint derives stable cache keys from (network, method,
// params) triples. The fast paths below mirror the common request shapes the
// rest of the system sees in practice; anything outside them falls back to a
// canonical-JSON hash.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// Fingerprint returns the deterministic cache key for a request. It depends
// only on the network key, method name and normalized params, never on the
// request id.
func Fingerprint(networkKey, method string, params []rpctypes.Param) string {
	switch {
	case len(params) == 0:
		return fmt.Sprintf("%s:%s", networkKey, method)

	case len(params) == 1 && isPrimitive(params[0]):
		return fmt.Sprintf("%s:%s:%s", networkKey, method, primitiveString(params[0]))

	case method == "eth_getLogs" && len(params) >= 1 && params[0].Kind == rpctypes.KindObject:
		return fingerprintGetLogs(networkKey, params[0])

	case method == "eth_getBlockReceipts" && len(params) == 1:
		return fmt.Sprintf("%s:eth_getBlockReceipts:%s", networkKey, paramString(params[0]))

	case method == "eth_call" && len(params) >= 1 && params[0].Kind == rpctypes.KindObject && hasToAndData(params[0]):
		var blockTag string
		if len(params) >= 2 {
			blockTag = blockTagString(params[1])
		} else {
			blockTag = "latest"
		}
		to := stringField(params[0], "to")
		data := stringField(params[0], "data")
		return fmt.Sprintf("%s:eth_call:%s:%s:%s", networkKey, to, data, blockTag)

	default:
		return fallbackFingerprint(networkKey, method, params)
	}
}

func isPrimitive(p rpctypes.Param) bool {
	switch p.Kind {
	case rpctypes.KindNumber, rpctypes.KindString, rpctypes.KindBool, rpctypes.KindNull:
		return true
	default:
		return false
	}
}

func primitiveString(p rpctypes.Param) string {
	switch p.Kind {
	case rpctypes.KindNull:
		return "null"
	case rpctypes.KindBool:
		if p.Bool {
			return "true"
		}
		return "false"
	case rpctypes.KindNumber:
		return p.Number.String()
	case rpctypes.KindString:
		return p.String
	default:
		return ""
	}
}

// paramString renders any param (primitive or not) for fast-path keys that
// accept a single loosely-typed argument, e.g. eth_getBlockReceipts.
func paramString(p rpctypes.Param) string {
	if isPrimitive(p) {
		return primitiveString(p)
	}
	return canonicalJSON(p)
}

func hasToAndData(obj rpctypes.Param) bool {
	to, okTo := obj.Object["to"]
	data, okData := obj.Object["data"]
	return okTo && okData && to.Kind == rpctypes.KindString && data.Kind == rpctypes.KindString
}

func stringField(obj rpctypes.Param, key string) string {
	if v, ok := obj.Object[key]; ok && v.Kind == rpctypes.KindString {
		return v.String
	}
	return ""
}

// blockTagString renders a block tag argument (string or object) for use in a
// cache key; non-primitive tags (e.g. {blockHash: ...}) are canonical-JSON
// serialised so structurally-equal objects collapse to the same string.
func blockTagString(p rpctypes.Param) string {
	if p.Kind == rpctypes.KindString {
		return p.String
	}
	return canonicalJSON(p)
}

func fingerprintGetLogs(networkKey string, filter rpctypes.Param) string {
	address := stringField(filter, "address")

	fromBlock := "0x0"
	if v, ok := filter.Object["fromBlock"]; ok {
		fromBlock = blockTagString(v)
	}

	toBlock := "latest"
	if v, ok := filter.Object["toBlock"]; ok {
		toBlock = blockTagString(v)
	}

	topicsJSON := "[]"
	if v, ok := filter.Object["topics"]; ok {
		topicsJSON = canonicalJSON(v)
	}

	return fmt.Sprintf("%s:eth_getLogs:%s:%s:%s:%s", networkKey, address, fromBlock, toBlock, topicsJSON)
}

func fallbackFingerprint(networkKey, method string, params []rpctypes.Param) string {
	payload := method + ":" + canonicalJSONParams(params)
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%s:h:%s", networkKey, hex.EncodeToString(sum[:])[:16])
}

func canonicalJSONParams(params []rpctypes.Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = canonicalJSON(p)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// canonicalJSON re-serialises a Param with object keys sorted, so two
// structurally equal values (built from differently-ordered JSON objects)
// always produce the same string.
func canonicalJSON(p rpctypes.Param) string {
	v := canonicalize(p)
	b, err := json.Marshal(v)
	if err != nil {
		return string(p.Raw)
	}
	return string(b)
}

func canonicalize(p rpctypes.Param) interface{} {
	switch p.Kind {
	case rpctypes.KindNull:
		return nil
	case rpctypes.KindBool:
		return p.Bool
	case rpctypes.KindNumber:
		return p.Number
	case rpctypes.KindString:
		return p.String
	case rpctypes.KindArray:
		out := make([]interface{}, len(p.Array))
		for i, v := range p.Array {
			out[i] = canonicalize(v)
		}
		return out
	case rpctypes.KindObject:
		keys := make([]string, 0, len(p.Object))
		for k := range p.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{k, canonicalize(p.Object[k])})
		}
		return out
	default:
		return nil
	}
}

// orderedMap preserves sorted key order through json.Marshal, since Go maps
// would otherwise re-sort (coincidentally the same here) but make the
// ordering guarantee explicit and independent of map iteration.
type kv struct {
	Key   string
	Value interface{}
}

type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
