package common

import (
	"fmt"
	"time"

	"github.com/erpc/contractreads/util"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMulticall3Address   = "0xcA11bde05977b3631167028862bE2a173976CA11"
	DefaultMulticall3MaxCalls  = 200
	DefaultRpcTimeout          = 10 * time.Second
	DefaultBlockTrackerPolling = 4 * time.Second
	DefaultQueryCacheTime      = 5 * time.Minute
	DefaultCompressionMinSize  = 1024
	DefaultMetricsPort         = 4001
)

func (c *Config) SetDefaults() error {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Rpc == nil {
		c.Rpc = &RpcConfig{}
	}
	if err := c.Rpc.SetDefaults(); err != nil {
		return err
	}
	if c.Multicall3 == nil {
		c.Multicall3 = &Multicall3Config{}
	}
	if err := c.Multicall3.SetDefaults(); err != nil {
		return err
	}
	if c.BlockTracker == nil {
		c.BlockTracker = &BlockTrackerConfig{}
	}
	if c.BlockTracker.Interval == 0 {
		c.BlockTracker.Interval = Duration(DefaultBlockTrackerPolling)
	}
	if c.QueryClient == nil {
		c.QueryClient = &QueryClientConfig{}
	}
	if err := c.QueryClient.SetDefaults(); err != nil {
		return err
	}
	if c.Persister != nil {
		if err := c.Persister.SetDefaults(); err != nil {
			return err
		}
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if err := c.Metrics.SetDefaults(); err != nil {
		return err
	}
	if c.Tracing != nil {
		if err := c.Tracing.SetDefaults(); err != nil {
			return err
		}
	}
	if len(c.Reads) == 0 {
		log.Warn().Msg("no reads found in config; nothing will be fetched")
	}
	for i, r := range c.Reads {
		if err := r.SetDefaults(i); err != nil {
			return err
		}
	}

	return nil
}

func (r *RpcConfig) SetDefaults() error {
	if r.Timeout == 0 {
		r.Timeout = Duration(DefaultRpcTimeout)
	}
	return nil
}

func (m *Multicall3Config) SetDefaults() error {
	if m.Enabled == nil {
		m.Enabled = util.BoolPtr(true)
	}
	if m.Address == "" {
		m.Address = DefaultMulticall3Address
	}
	if m.MaxCalls == 0 {
		m.MaxCalls = DefaultMulticall3MaxCalls
	}
	return nil
}

func (q *QueryClientConfig) SetDefaults() error {
	if q.CacheTime == 0 {
		q.CacheTime = Duration(DefaultQueryCacheTime)
	}
	if q.Retry != nil {
		if err := q.Retry.SetDefaults(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RetryPolicyConfig) SetDefaults() error {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.Delay == 0 {
		r.Delay = Duration(1 * time.Second)
	}
	if r.BackoffMaxDelay == 0 {
		r.BackoffMaxDelay = Duration(30 * time.Second)
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = 2
	}
	return nil
}

func (c *ConnectorConfig) SetDefaults() error {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Id == "" {
		c.Id = fmt.Sprintf("persister-%s", c.Driver)
	}
	if c.CompressionThreshold == 0 {
		c.CompressionThreshold = DefaultCompressionMinSize
	}
	switch c.Driver {
	case DriverMemory:
		if c.Memory == nil {
			c.Memory = &MemoryConnectorConfig{}
		}
		if c.Memory.MaxItems == 0 {
			c.Memory.MaxItems = 10_000
		}
		if c.Memory.MaxTotalSize == "" {
			c.Memory.MaxTotalSize = "64MB"
		}
	case DriverRedis:
		if c.Redis == nil {
			c.Redis = &RedisConnectorConfig{}
		}
		if c.Redis.Addr == "" {
			c.Redis.Addr = "localhost:6379"
		}
		if c.Redis.ConnPoolSize == 0 {
			c.Redis.ConnPoolSize = 8
		}
		if c.Redis.KeyPrefix == "" {
			c.Redis.KeyPrefix = "contractreads"
		}
		if c.Redis.InitTimeout == 0 {
			c.Redis.InitTimeout = Duration(5 * time.Second)
		}
		if c.Redis.GetTimeout == 0 {
			c.Redis.GetTimeout = Duration(1 * time.Second)
		}
		if c.Redis.SetTimeout == 0 {
			c.Redis.SetTimeout = Duration(2 * time.Second)
		}
	}
	return nil
}

func (m *MetricsConfig) SetDefaults() error {
	if m.Enabled == nil {
		m.Enabled = util.BoolPtr(true)
	}
	if m.Host == "" {
		m.Host = "0.0.0.0"
	}
	if m.Port == 0 {
		m.Port = DefaultMetricsPort
	}
	return nil
}

func (t *TracingConfig) SetDefaults() error {
	if t.ServiceName == "" {
		t.ServiceName = "contractreads"
	}
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4318"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1.0
	}
	return nil
}

func (r *ReadsConfig) SetDefaults(index int) error {
	if r.Id == "" {
		r.Id = fmt.Sprintf("reads-%d", index)
	}
	if r.AllowFailure == nil {
		r.AllowFailure = util.BoolPtr(true)
	}
	return nil
}
