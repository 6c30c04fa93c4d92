package common

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/erpc/contractreads/util"
	gethcommon "github.com/ethereum/go-ethereum/common"
)

var validBlockTags = []string{"latest", "earliest", "pending", "safe", "finalized"}

func (c *Config) Validate() error {
	if err := c.Rpc.Validate(c.ChainId); err != nil {
		return err
	}
	if c.Multicall3 != nil && !gethcommon.IsHexAddress(c.Multicall3.Address) {
		return NewErrInvalidConfig(fmt.Sprintf("multicall3.address is not a valid address: %s", c.Multicall3.Address))
	}
	if c.QueryClient != nil && c.QueryClient.Retry != nil {
		if err := c.QueryClient.Retry.Validate(); err != nil {
			return err
		}
	}
	if c.Persister != nil {
		if err := c.Persister.Validate(); err != nil {
			return err
		}
	}
	if c.Tracing != nil && c.Tracing.Enabled {
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return NewErrInvalidConfig("tracing.sampleRate must be between 0 and 1")
		}
	}
	ids := map[string]bool{}
	for _, r := range c.Reads {
		if ids[r.Id] {
			return NewErrInvalidConfig(fmt.Sprintf("duplicate reads id: %s", r.Id))
		}
		ids[r.Id] = true
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RpcConfig) Validate(chainId int64) error {
	if r == nil {
		return NewErrInvalidConfig("rpc is required")
	}
	if r.Url == "" {
		if chainId == 0 {
			return NewErrInvalidConfig("rpc.url is required when chainId is not set")
		}
		if _, ok := r.Endpoints[chainId]; !ok {
			return NewErrInvalidConfig(fmt.Sprintf("rpc.url or rpc.endpoints[%d] is required for the current chain", chainId))
		}
	}
	for id, ep := range r.Endpoints {
		if id <= 0 {
			return NewErrInvalidConfig(fmt.Sprintf("rpc.endpoints has an invalid chain id: %d", id))
		}
		if ep == "" {
			return NewErrInvalidConfig(fmt.Sprintf("rpc.endpoints[%d] is empty", id))
		}
	}
	return nil
}

func (r *RetryPolicyConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return NewErrInvalidConfig("queryClient.retry.maxAttempts must be at least 1")
	}
	if r.BackoffFactor < 1 {
		return NewErrInvalidConfig("queryClient.retry.backoffFactor must be at least 1")
	}
	if r.BackoffMaxDelay < r.Delay {
		return NewErrInvalidConfig("queryClient.retry.backoffMaxDelay must not be lower than delay")
	}
	return nil
}

func (c *ConnectorConfig) Validate() error {
	switch c.Driver {
	case DriverNone, DriverMemory, DriverRedis:
	default:
		return NewErrInvalidConnectorDriver(string(c.Driver))
	}
	if c.Driver == DriverRedis && c.Redis == nil {
		return NewErrInvalidConfig("persister.redis is required for the redis driver")
	}
	if c.Memory != nil && c.Memory.MaxTotalSize != "" {
		if _, err := humanize.ParseBytes(c.Memory.MaxTotalSize); err != nil {
			return NewErrInvalidConfig(fmt.Sprintf("persister.memory.maxTotalSize is invalid: %s", err))
		}
	}
	return nil
}

// Validate rejects reads that combine more than one of blockNumber, blockTag and watch.
func (r *ReadsConfig) Validate() error {
	if !util.IsValidIdentifier(r.Id) {
		return NewErrInvalidConfig(fmt.Sprintf("reads id must match [a-zA-Z0-9_-]+: %q", r.Id))
	}
	scopes := 0
	if r.BlockNumber != 0 {
		scopes++
	}
	if r.BlockTag != "" {
		scopes++
		if !slices.Contains(validBlockTags, r.BlockTag) {
			return NewErrInvalidConfig(fmt.Sprintf("reads[%s].blockTag is invalid: %s", r.Id, r.BlockTag))
		}
	}
	if r.Watch {
		scopes++
	}
	if scopes > 1 {
		return NewErrInvalidConfig(fmt.Sprintf("reads[%s] may set only one of blockNumber, blockTag or watch", r.Id))
	}
	if len(r.Contracts) == 0 {
		return NewErrInvalidConfig(fmt.Sprintf("reads[%s].contracts must not be empty", r.Id))
	}
	for i, c := range r.Contracts {
		if c.Address != "" && !gethcommon.IsHexAddress(c.Address) {
			return NewErrInvalidConfig(fmt.Sprintf("reads[%s].contracts[%d].address is not a valid address: %s", r.Id, i, c.Address))
		}
		if c.ChainId < 0 {
			return NewErrInvalidConfig(fmt.Sprintf("reads[%s].contracts[%d].chainId is invalid", r.Id, i))
		}
	}
	return nil
}
