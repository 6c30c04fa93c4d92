package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// Every stored value starts with one of these markers so that values written below and
// above the threshold can be read back alike.
const (
	valueMarkerPlain byte = 0x00
	valueMarkerZstd  byte = 0x01
)

var _ Connector = (*CompressedConnector)(nil)

// CompressedConnector compresses values larger than a threshold with zstd before handing them
// to the wrapped connector.
type CompressedConnector struct {
	Connector
	logger      *zerolog.Logger
	threshold   int
	encoder     *zstd.Encoder
	decoderPool *sync.Pool
}

func NewCompressedConnector(logger *zerolog.Logger, inner Connector, threshold int) (*CompressedConnector, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	lg := logger.With().Str("connector", inner.Id()).Logger()
	return &CompressedConnector{
		Connector: inner,
		logger:    &lg,
		threshold: threshold,
		encoder:   encoder,
		decoderPool: &sync.Pool{New: func() interface{} {
			d, _ := zstd.NewReader(nil)
			return d
		}},
	}, nil
}

func (c *CompressedConnector) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if len(value) <= c.threshold {
		out := make([]byte, 0, len(value)+1)
		out = append(out, valueMarkerPlain)
		return c.Connector.Set(ctx, key, append(out, value...), ttl)
	}

	out := make([]byte, 1, len(value)/2+1)
	out[0] = valueMarkerZstd
	out = c.encoder.EncodeAll(value, out)
	if c.logger.GetLevel() <= zerolog.TraceLevel {
		c.logger.Trace().
			Str("key", key).
			Str("original", humanize.Bytes(uint64(len(value)))).
			Str("compressed", humanize.Bytes(uint64(len(out)))).
			Msg("compressed persisted value")
	}
	return c.Connector.Set(ctx, key, out, ttl)
}

func (c *CompressedConnector) Get(ctx context.Context, key string) ([]byte, error) {
	stored, err := c.Connector.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, errors.New("persisted value has no marker")
	}

	switch stored[0] {
	case valueMarkerPlain:
		return stored[1:], nil
	case valueMarkerZstd:
		decoder, ok := c.decoderPool.Get().(*zstd.Decoder)
		if !ok || decoder == nil {
			return nil, errors.New("failed to get zstd decoder from pool")
		}
		defer c.decoderPool.Put(decoder)
		out, err := decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress persisted value: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown persisted value marker: %#x", stored[0])
}

func (c *CompressedConnector) Close() error {
	c.encoder.Close()
	return c.Connector.Close()
}
