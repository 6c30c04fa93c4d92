package data

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	"github.com/erpc/contractreads/common"
	"github.com/rs/zerolog"
)

const MemoryDriverName = "memory"

var _ Connector = (*MemoryConnector)(nil)

type MemoryConnector struct {
	id     string
	logger *zerolog.Logger
	cache  *ristretto.Cache[string, []byte]
}

func NewMemoryConnector(
	ctx context.Context,
	logger *zerolog.Logger,
	id string,
	cfg *common.MemoryConnectorConfig,
) (*MemoryConnector, error) {
	lg := logger.With().Str("connector", id).Logger()

	maxItems := 10_000
	maxCost := uint64(64 * 1024 * 1024)
	if cfg != nil {
		if cfg.MaxItems > 0 {
			maxItems = cfg.MaxItems
		}
		if cfg.MaxTotalSize != "" {
			parsed, err := humanize.ParseBytes(cfg.MaxTotalSize)
			if err != nil {
				return nil, common.NewErrInvalidConfig(fmt.Sprintf("invalid memory maxTotalSize: %s", err))
			}
			maxCost = parsed
		}
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: int64(maxItems) * 10,
		MaxCost:     int64(maxCost), // #nosec G115
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory connector cache: %w", err)
	}

	lg.Debug().
		Int("maxItems", maxItems).
		Str("maxTotalSize", humanize.Bytes(maxCost)).
		Msg("created memory connector")

	go func() {
		<-ctx.Done()
		cache.Close()
	}()

	return &MemoryConnector{
		id:     id,
		logger: &lg,
		cache:  cache,
	}, nil
}

func (m *MemoryConnector) Id() string {
	return m.id
}

func (m *MemoryConnector) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := m.cache.Get(key)
	if !ok {
		err := common.NewErrRecordNotFound(key, MemoryDriverName)
		recordOperation(m.id, "get", err)
		return nil, err
	}
	recordOperation(m.id, "get", nil)
	return value, nil
}

func (m *MemoryConnector) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !m.cache.SetWithTTL(key, value, int64(len(key)+len(value)), ttl) {
		m.logger.Debug().Str("key", key).Msg("memory connector dropped a write")
	}
	// make the write visible to the next Get
	m.cache.Wait()
	recordOperation(m.id, "set", nil)
	return nil
}

func (m *MemoryConnector) Delete(_ context.Context, key string) error {
	m.cache.Del(key)
	recordOperation(m.id, "delete", nil)
	return nil
}

func (m *MemoryConnector) Close() error {
	m.cache.Close()
	return nil
}
