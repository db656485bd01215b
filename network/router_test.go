package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

func testNetworks() map[string]*rpctypes.NetworkSpec {
	return map[string]*rpctypes.NetworkSpec{
		"eth":      {Key: "eth", Primary: rpctypes.UpstreamSpec{URL: "https://eth.example/rpc"}},
		"optimism": {Key: "optimism", Primary: rpctypes.UpstreamSpec{URL: "https://op.example/rpc"}},
	}
}

func TestRouterResolveExplicit(t *testing.T) {
	r := NewRouter(testNetworks(), []string{"eth", "optimism"})

	spec, err := r.Resolve("optimism")
	require.NoError(t, err)
	assert.Equal(t, "optimism", spec.Key)
}

func TestRouterResolveEmptyUsesFirstInOrder(t *testing.T) {
	r := NewRouter(testNetworks(), []string{"optimism", "eth"})

	spec, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "optimism", spec.Key)
}

func TestRouterResolveUnknownNetwork(t *testing.T) {
	r := NewRouter(testNetworks(), []string{"eth"})

	_, err := r.Resolve("arbitrum")
	require.Error(t, err)
	var unknown *ErrUnknownNetwork
	assert.ErrorAs(t, err, &unknown)
}

func TestRouterAllPreservesOrder(t *testing.T) {
	r := NewRouter(testNetworks(), []string{"optimism", "eth"})

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "optimism", all[0].Key)
	assert.Equal(t, "eth", all[1].Key)
}
