package common

import (
	"os"

	"github.com/erpc/contractreads/util"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration of the application.
type Config struct {
	LogLevel     string              `yaml:"logLevel" json:"logLevel"`
	ChainId      int64               `yaml:"chainId" json:"chainId"`
	Rpc          *RpcConfig          `yaml:"rpc" json:"rpc"`
	Multicall3   *Multicall3Config   `yaml:"multicall3" json:"multicall3"`
	BlockTracker *BlockTrackerConfig `yaml:"blockTracker" json:"blockTracker"`
	QueryClient  *QueryClientConfig  `yaml:"queryClient" json:"queryClient"`
	Persister    *ConnectorConfig    `yaml:"persister" json:"persister"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Tracing      *TracingConfig      `yaml:"tracing" json:"tracing"`
	Reads        []*ReadsConfig      `yaml:"reads" json:"reads"`
}

type RpcConfig struct {
	// Url is the endpoint of the current chain; its chain id comes from Config.ChainId or eth_chainId.
	Url string `yaml:"url" json:"url"`
	// Endpoints maps additional chain ids to JSON-RPC http(s) endpoints.
	Endpoints map[int64]string  `yaml:"endpoints" json:"endpoints"`
	Timeout   Duration          `yaml:"timeout" json:"timeout"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
}

type Multicall3Config struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	// MaxCalls splits larger batches into several aggregate3 requests.
	MaxCalls int `yaml:"maxCalls" json:"maxCalls"`
}

type BlockTrackerConfig struct {
	Interval Duration `yaml:"interval" json:"interval"`
}

type QueryClientConfig struct {
	StaleTime Duration           `yaml:"staleTime" json:"staleTime"`
	CacheTime Duration           `yaml:"cacheTime" json:"cacheTime"`
	Retry     *RetryPolicyConfig `yaml:"retry" json:"retry"`
}

type RetryPolicyConfig struct {
	MaxAttempts     int      `yaml:"maxAttempts" json:"maxAttempts"`
	Delay           Duration `yaml:"delay" json:"delay"`
	BackoffMaxDelay Duration `yaml:"backoffMaxDelay" json:"backoffMaxDelay"`
	BackoffFactor   float32  `yaml:"backoffFactor" json:"backoffFactor"`
	Jitter          Duration `yaml:"jitter" json:"jitter"`
}

type ConnectorDriverType string

const (
	DriverNone   ConnectorDriverType = "none"
	DriverMemory ConnectorDriverType = "memory"
	DriverRedis  ConnectorDriverType = "redis"
)

type ConnectorConfig struct {
	Id     string                 `yaml:"id" json:"id"`
	Driver ConnectorDriverType    `yaml:"driver" json:"driver"`
	Memory *MemoryConnectorConfig `yaml:"memory" json:"memory"`
	Redis  *RedisConnectorConfig  `yaml:"redis" json:"redis"`
	// CompressionThreshold enables zstd for persisted payloads larger than this many bytes. A negative value disables it.
	CompressionThreshold int `yaml:"compressionThreshold" json:"compressionThreshold"`
}

type MemoryConnectorConfig struct {
	MaxItems int `yaml:"maxItems" json:"maxItems"`
	// MaxTotalSize is a humanized byte size such as "64MB".
	MaxTotalSize string `yaml:"maxTotalSize" json:"maxTotalSize"`
}

type RedisConnectorConfig struct {
	Addr         string   `yaml:"addr" json:"addr"`
	Password     string   `yaml:"password" json:"-"`
	DB           int      `yaml:"db" json:"db"`
	ConnPoolSize int      `yaml:"connPoolSize" json:"connPoolSize"`
	KeyPrefix    string   `yaml:"keyPrefix" json:"keyPrefix"`
	InitTimeout  Duration `yaml:"initTimeout" json:"initTimeout"`
	GetTimeout   Duration `yaml:"getTimeout" json:"getTimeout"`
	SetTimeout   Duration `yaml:"setTimeout" json:"setTimeout"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Detailed    bool    `yaml:"detailed" json:"detailed"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate" json:"sampleRate"`
}

// ReadsConfig describes one batch of contract reads that the cli keeps up to date.
type ReadsConfig struct {
	Id           string                `yaml:"id" json:"id"`
	AllowFailure *bool                 `yaml:"allowFailure" json:"allowFailure"`
	BlockNumber  uint64                `yaml:"blockNumber" json:"blockNumber"`
	BlockTag     string                `yaml:"blockTag" json:"blockTag"`
	Watch        bool                  `yaml:"watch" json:"watch"`
	CacheOnBlock bool                  `yaml:"cacheOnBlock" json:"cacheOnBlock"`
	ScopeKey     string                `yaml:"scopeKey" json:"scopeKey"`
	StaleTime    Duration              `yaml:"staleTime" json:"staleTime"`
	Contracts    []*ContractCallConfig `yaml:"contracts" json:"contracts"`
}

type ContractCallConfig struct {
	Address      string        `yaml:"address" json:"address"`
	FunctionName string        `yaml:"functionName" json:"functionName"`
	Args         []interface{} `yaml:"args" json:"args"`
	ChainId      int64         `yaml:"chainId" json:"chainId"`
	// Abi is an inline JSON ABI; AbiFile is read relative to the working directory when Abi is empty.
	Abi     string `yaml:"abi" json:"abi"`
	AbiFile string `yaml:"abiFile" json:"abiFile"`
}

// LoadConfig loads the configuration from the specified file.
func LoadConfig(fs afero.Fs, filename string) (*Config, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	err = yaml.Unmarshal(expandedData, &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) GetReadsConfig(id string) *ReadsConfig {
	for _, r := range c.Reads {
		if r.Id == id {
			return r
		}
	}

	return nil
}

func (c *RpcConfig) MarshalZerologObject(e *zerolog.Event) {
	e.Str("url", util.RedactEndpoint(c.Url)).
		Int("endpoints", len(c.Endpoints)).
		Dur("timeout", c.Timeout.Duration())
}

func (c *ConnectorConfig) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", c.Id).Str("driver", string(c.Driver))
	if c.Redis != nil {
		e.Str("addr", c.Redis.Addr).Int("db", c.Redis.DB)
	}
	if c.Memory != nil {
		e.Int("maxItems", c.Memory.MaxItems).Str("maxTotalSize", c.Memory.MaxTotalSize)
	}
}
