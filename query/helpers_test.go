package query

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/util"
	"github.com/rs/zerolog/log"
)

func init() {
	util.ConfigureTestLogger()
}

type testKey string

func (k testKey) Hash() string { return string(k) }

type payload struct {
	Balance int64
	Tags    []string
}

func newTestClient(t *testing.T, cfg *common.QueryClientConfig) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := log.Logger
	return NewClient(ctx, &logger, cfg, nil)
}

// countingFn returns a QueryFunc that counts its calls and returns whatever next produces.
func countingFn(calls *atomic.Int32, next func(n int32) (any, error)) QueryFunc {
	return func(ctx context.Context) (any, error) {
		n := calls.Add(1)
		return next(n)
	}
}
