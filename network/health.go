package network

import (
	"context"
	"time"

	providers "github.com/openweb3/go-rpc-provider/provider_wrapper"
	"github.com/openweb3/web3go"
	"github.com/sirupsen/logrus"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// HealthStatus is one network's liveness observation for GET /health.
type HealthStatus struct {
	Network string
	Up      bool
	Error   string
}

// ProbeTimeout bounds the short liveness call; independent of a network's
// normal RequestTimeout since a health probe must fail fast.
const ProbeTimeout = 2 * time.Second

// Probe issues a net_version call against a network's primary upstream,
// bypassing cache and dispatcher entirely since a liveness probe must
// observe the raw upstream.
func Probe(ctx context.Context, spec *rpctypes.NetworkSpec) HealthStatus {
	client, err := web3go.NewClientWithOption(spec.Primary.URL, web3go.ClientOption{Option: providers.Option{RequestTimeout: ProbeTimeout}})
	if err != nil {
		return HealthStatus{Network: spec.Key, Up: false, Error: err.Error()}
	}
	defer client.Close()

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := client.Eth.NetVersion()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			logrus.WithField("network", spec.Key).WithError(err).Debug("health probe failed")
			return HealthStatus{Network: spec.Key, Up: false, Error: err.Error()}
		}
		return HealthStatus{Network: spec.Key, Up: true}
	case <-probeCtx.Done():
		return HealthStatus{Network: spec.Key, Up: false, Error: "probe timed out"}
	}
}
