package network

import (
	"fmt"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// ErrUnknownNetwork is returned when a path segment has no matching
// NetworkSpec (spec §7's UnknownNetwork error kind).
type ErrUnknownNetwork struct{ Key string }

func (e *ErrUnknownNetwork) Error() string {
	return fmt.Sprintf("unknown network %q", e.Key)
}

// Router resolves a path segment to a NetworkSpec. The empty segment ("/")
// resolves to the configured default network.
type Router struct {
	networks map[string]*rpctypes.NetworkSpec
	order    []string
}

// NewRouter builds a router from a set of named NetworkSpecs. order fixes
// which network POST / falls back to when no explicit default is given
// (the first configured network, per spec §6).
func NewRouter(networks map[string]*rpctypes.NetworkSpec, order []string) *Router {
	return &Router{networks: networks, order: order}
}

// Resolve returns the NetworkSpec for a path segment, or ErrUnknownNetwork.
func (r *Router) Resolve(segment string) (*rpctypes.NetworkSpec, error) {
	if segment == "" {
		if len(r.order) == 0 {
			return nil, &ErrUnknownNetwork{Key: ""}
		}
		return r.networks[r.order[0]], nil
	}
	spec, ok := r.networks[segment]
	if !ok {
		return nil, &ErrUnknownNetwork{Key: segment}
	}
	return spec, nil
}

// All returns every configured network, in configuration order, for the
// health-probe and stats endpoints.
func (r *Router) All() []*rpctypes.NetworkSpec {
	out := make([]*rpctypes.NetworkSpec, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.networks[key])
	}
	return out
}
