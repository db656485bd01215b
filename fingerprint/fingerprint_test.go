package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

func params(t *testing.T, raws ...string) []rpctypes.Param {
	t.Helper()
	out := make([]rpctypes.Param, len(raws))
	for i, r := range raws {
		out[i] = rpctypes.ParamFromRaw(json.RawMessage(r))
	}
	return out
}

func TestFingerprintNoParams(t *testing.T) {
	key := Fingerprint("mainnet", "eth_chainId", nil)
	assert.Equal(t, "mainnet:eth_chainId", key)
}

func TestFingerprintSinglePrimitive(t *testing.T) {
	key := Fingerprint("mainnet", "eth_getBlockByHash", params(t, `"0xabc"`))
	assert.Equal(t, "mainnet:eth_getBlockByHash:0xabc", key)
}

func TestFingerprintGetLogsStable(t *testing.T) {
	a := Fingerprint("mainnet", "eth_getLogs", params(t, `{"address":"0xAAA","fromBlock":"0x1","toBlock":"0x2","topics":["0xT1"]}`))
	b := Fingerprint("mainnet", "eth_getLogs", params(t, `{"toBlock":"0x2","address":"0xAAA","topics":["0xT1"],"fromBlock":"0x1"}`))
	assert.Equal(t, a, b, "key order must not affect the fingerprint")
}

func TestFingerprintGetLogsDefaults(t *testing.T) {
	key := Fingerprint("mainnet", "eth_getLogs", params(t, `{}`))
	assert.Equal(t, `mainnet:eth_getLogs::0x0:latest:[]`, key)
}

func TestFingerprintEthCall(t *testing.T) {
	key := Fingerprint("mainnet", "eth_call", params(t, `{"to":"0x1","data":"0x2"}`, `"0xE4E1C0"`))
	assert.Equal(t, "mainnet:eth_call:0x1:0x2:0xE4E1C0", key)
}

func TestFingerprintEthCallWithoutBlockTag(t *testing.T) {
	key := Fingerprint("mainnet", "eth_call", params(t, `{"to":"0x1","data":"0x2"}`))
	assert.Equal(t, "mainnet:eth_call:0x1:0x2:latest", key)
}

func TestFingerprintFallbackStable(t *testing.T) {
	a := Fingerprint("mainnet", "eth_estimateGas", params(t, `{"b":2,"a":1}`))
	b := Fingerprint("mainnet", "eth_estimateGas", params(t, `{"a":1,"b":2}`))
	assert.Equal(t, a, b)
}

func TestFingerprintFallbackDiffersOnParams(t *testing.T) {
	a := Fingerprint("mainnet", "eth_estimateGas", params(t, `{"a":1}`))
	b := Fingerprint("mainnet", "eth_estimateGas", params(t, `{"a":2}`))
	assert.NotEqual(t, a, b)
}

func TestFingerprintDiffersAcrossNetworkKeys(t *testing.T) {
	a := Fingerprint("mainnet", "eth_blockNumber", nil)
	b := Fingerprint("testnet", "eth_blockNumber", nil)
	assert.NotEqual(t, a, b)
}
