package data

import (
	"context"
	"time"

	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/telemetry"
	"github.com/rs/zerolog"
)

// Connector is a key/value store for persisted query data.
// Get returns common.ErrRecordNotFound when the key is absent or expired.
type Connector interface {
	Id() string
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl keeps the value until it is evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewConnector creates the connector of cfg.Driver, wrapped with zstd compression when a
// threshold is configured. The "none" driver is not a connector and is rejected here.
func NewConnector(
	ctx context.Context,
	logger *zerolog.Logger,
	cfg *common.ConnectorConfig,
) (Connector, error) {
	var (
		connector Connector
		err       error
	)
	switch cfg.Driver {
	case common.DriverMemory:
		connector, err = NewMemoryConnector(ctx, logger, cfg.Id, cfg.Memory)
	case common.DriverRedis:
		connector, err = NewRedisConnector(ctx, logger, cfg.Id, cfg.Redis)
	default:
		return nil, common.NewErrInvalidConnectorDriver(string(cfg.Driver))
	}
	if err != nil {
		return nil, err
	}

	if cfg.CompressionThreshold >= 0 {
		return NewCompressedConnector(logger, connector, cfg.CompressionThreshold)
	}
	return connector, nil
}

func recordOperation(connectorId, operation string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case common.HasErrorCode(err, common.ErrCodeRecordNotFound):
		outcome = "miss"
	default:
		outcome = "error"
	}
	telemetry.CounterHandle(telemetry.MetricPersisterOperationsTotal, connectorId, operation, outcome).Inc()
}
