// Package config loads the proxy's YAML configuration file with an
// environment-variable overlay, matching the teacher's viper-based
// bootstrapping idiom.
package config

import (
	"os"
	"strings"
	"time"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/superfluid-org/super-rpc/rpctypes"
)

// envPrefix mirrors the teacher's "infura" environment overlay prefix,
// renamed to this proxy's own namespace.
const envPrefix = "RPCPROXY"

// UpstreamFileSpec is the config-file shape of rpctypes.UpstreamSpec.
type UpstreamFileSpec struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// NetworkFileSpec is the config-file shape of one rpc.networks[k] entry.
type NetworkFileSpec struct {
	Primary            UpstreamFileSpec  `mapstructure:"primary"`
	Fallback           *UpstreamFileSpec `mapstructure:"fallback"`
	RequestTimeoutMs   int               `mapstructure:"requestTimeoutMs" default:"5000"`
	MaxFallbackRetries int               `mapstructure:"maxFallbackRetries" default:"2"`
	InitialBackoffMs   int               `mapstructure:"initialBackoffMs" default:"200"`
	QueueConcurrency   int               `mapstructure:"queueConcurrency" default:"20"`
	RateLimitQPS       float64           `mapstructure:"rateLimitQps" default:"0"`
}

// CacheConfig is the `cache.*` configuration block of spec §6.
type CacheConfig struct {
	MaxAgeSeconds int    `mapstructure:"maxAge" default:"0"`
	MaxSize       int    `mapstructure:"maxSize" default:"100000"`
	EnableDB      bool   `mapstructure:"enableDb" default:"true"`
	DBFile        string `mapstructure:"dbFile" default:"data/cache.db"`
	RedisAddr     string `mapstructure:"redisAddr"`
}

// RPCConfig is the `rpc.*` configuration block of spec §6.
type RPCConfig struct {
	Endpoint          string                     `mapstructure:"endpoint" default:":8545"`
	TimeoutMs         int                        `mapstructure:"timeout" default:"5000"`
	Retries           int                        `mapstructure:"retries" default:"2"`
	InitialTimeoutMs  int                        `mapstructure:"initialTimeoutMs" default:"200"`
	DefaultNetwork    string                     `mapstructure:"defaultNetwork"`
	Networks          map[string]NetworkFileSpec `mapstructure:"networks"`
}

// Config is the complete configuration the core and its collaborators
// consult.
type Config struct {
	Cache CacheConfig `mapstructure:"cache"`
	RPC   RPCConfig   `mapstructure:"rpc"`
}

// MustLoad reads the YAML config file (if present) plus the RPCPROXY_*
// environment overlay, applies struct defaults, and returns the parsed
// Config. A missing config file is tolerated (defaults + env only); any
// other read/parse failure is fatal at startup, per spec §6's exit code 1.
func MustLoad(configFile string) *Config {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			logrus.WithError(err).Fatal("failed to read configuration file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		logrus.WithError(err).Fatal("failed to parse configuration")
	}
	defaults.SetDefaults(&cfg)
	for key, net := range cfg.RPC.Networks {
		defaults.SetDefaults(&net)
		cfg.RPC.Networks[key] = net
	}

	if err := cfg.validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	return &cfg
}

func (c *Config) validate() error {
	if len(c.RPC.Networks) == 0 {
		return errors.New("rpc.networks must configure at least one network")
	}
	for key, net := range c.RPC.Networks {
		if net.Primary.URL == "" {
			return errors.Errorf("network %q is missing a primary upstream url", key)
		}
	}
	return nil
}

// NetworkOrder returns network keys in a stable order (default network, if
// any configured explicitly, sorted lexicographically otherwise), used by
// the router for POST / when no network segment is given.
func (c *Config) NetworkOrder() []string {
	keys := make([]string, 0, len(c.RPC.Networks))
	for k := range c.RPC.Networks {
		keys = append(keys, k)
	}
	sortStrings(keys)

	if c.RPC.DefaultNetwork != "" {
		reordered := []string{c.RPC.DefaultNetwork}
		for _, k := range keys {
			if k != c.RPC.DefaultNetwork {
				reordered = append(reordered, k)
			}
		}
		return reordered
	}
	return keys
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// NetworkSpecs converts the file-shaped network config into rpctypes's
// runtime NetworkSpec values.
func (c *Config) NetworkSpecs() map[string]*rpctypes.NetworkSpec {
	out := make(map[string]*rpctypes.NetworkSpec, len(c.RPC.Networks))
	for key, n := range c.RPC.Networks {
		spec := &rpctypes.NetworkSpec{
			Key:                key,
			Primary:            rpctypes.UpstreamSpec{URL: n.Primary.URL, Headers: n.Primary.Headers},
			RequestTimeout:     time.Duration(n.RequestTimeoutMs) * time.Millisecond,
			MaxFallbackRetries: n.MaxFallbackRetries,
			InitialBackoff:     time.Duration(n.InitialBackoffMs) * time.Millisecond,
			QueueConcurrency:   n.QueueConcurrency,
			RateLimitQPS:       n.RateLimitQPS,
		}
		if n.Fallback != nil {
			spec.Fallback = &rpctypes.UpstreamSpec{URL: n.Fallback.URL, Headers: n.Fallback.Headers}
		}
		out[key] = spec
	}
	return out
}

// CacheMaxAge returns cache.maxAge as a time.Duration (0 = infinite
// retention, per spec §4.5).
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeSeconds) * time.Second
}
