package cache

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// ValidateLogs implements the eth_getLogs structural+semantic check of spec
// §4.6: a small fixed sample of the result array (first/middle/last for
// large arrays, first+last for small ones) is checked against the filter, so
// validation cost stays sub-linear in result size.
func ValidateLogs(filter rpctypes.Param, result json.RawMessage) bool {
	var logs []json.RawMessage
	if err := json.Unmarshal(result, &logs); err != nil {
		return false
	}
	if len(logs) == 0 {
		return true
	}

	wantAddress := strings.ToLower(stringFieldOf(filter, "address"))
	wantTopic0 := firstTopic(filter)
	fromBlock, fromFixed := fixedHexTag(filter, "fromBlock")
	toBlock, toFixed := fixedHexTag(filter, "toBlock")

	for _, idx := range sampleIndices(len(logs)) {
		var entry struct {
			Address     string   `json:"address"`
			Topics      []string `json:"topics"`
			BlockNumber string   `json:"blockNumber"`
		}
		if err := json.Unmarshal(logs[idx], &entry); err != nil {
			return false
		}

		if wantAddress != "" && strings.ToLower(entry.Address) != wantAddress {
			return false
		}
		if wantTopic0 != "" {
			if len(entry.Topics) == 0 || !strings.EqualFold(entry.Topics[0], wantTopic0) {
				return false
			}
		}
		if fromFixed && toFixed {
			if !blockInRange(entry.BlockNumber, fromBlock, toBlock) {
				return false
			}
		}
	}
	return true
}

// sampleIndices returns first/middle/last for n>=3, first+last for n in
// {1,2}, matching spec §4.6's "sub-linear in result size" requirement.
func sampleIndices(n int) []int {
	switch {
	case n == 1:
		return []int{0}
	case n == 2:
		return []int{0, 1}
	default:
		return []int{0, n / 2, n - 1}
	}
}

func stringFieldOf(p rpctypes.Param, key string) string {
	if p.Kind != rpctypes.KindObject {
		return ""
	}
	if v, ok := p.Object[key]; ok && v.Kind == rpctypes.KindString {
		return v.String
	}
	return ""
}

func firstTopic(filter rpctypes.Param) string {
	if filter.Kind != rpctypes.KindObject {
		return ""
	}
	topics, ok := filter.Object["topics"]
	if !ok || topics.Kind != rpctypes.KindArray || len(topics.Array) == 0 {
		return ""
	}
	if topics.Array[0].Kind != rpctypes.KindString {
		return ""
	}
	return topics.Array[0].String
}

func fixedHexTag(filter rpctypes.Param, key string) (uint64, bool) {
	v := stringFieldOf(filter, key)
	if !strings.HasPrefix(strings.ToLower(v), "0x") {
		return 0, false
	}
	n, err := strconv.ParseUint(v[2:], 16, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func blockInRange(hexBlock string, from, to uint64) bool {
	if !strings.HasPrefix(strings.ToLower(hexBlock), "0x") {
		return false
	}
	n, err := strconv.ParseUint(hexBlock[2:], 16, 64)
	if err != nil {
		return false
	}
	return n >= from && n <= to
}

// ValidateResult implements the default validator branch of spec §4.6 for
// every method other than eth_getLogs: the result must be present and not
// null.
func ValidateResult(result json.RawMessage) bool {
	if len(result) == 0 {
		return false
	}
	return string(result) != "null"
}
