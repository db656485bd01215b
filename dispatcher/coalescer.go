package dispatcher

import (
	"golang.org/x/sync/singleflight"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// Coalescer implements spec §4.9's single-flight guarantee: concurrent
// identical requests (same fingerprint) share one upstream attempt. This is
// a thin wrapper over golang.org/x/sync/singleflight, whose Do already
// provides "register if absent, else join" semantics; the wrapper's only
// job is rewriting the shared result's id for each caller.
type Coalescer struct {
	group singleflight.Group
}

// Join runs produce for the given key if no attempt is already in flight,
// or awaits the in-flight attempt's result otherwise. The returned response
// always has its id rewritten to requestID, even when the response was
// produced for a different leader's id.
func (c *Coalescer) Join(key string, requestID rpctypes.RpcID, produce func() (*rpctypes.RpcResponse, error)) (*rpctypes.RpcResponse, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return produce()
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*rpctypes.RpcResponse)
	return resp.WithID(requestID), nil
}
