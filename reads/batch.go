package reads

import (
	"context"
	"fmt"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/query"
	"github.com/erpc/contractreads/util"
)

// Batch is the cached data of one read: raw results as returned by the chain and their decoded
// form. Only Raw is persisted.
type Batch struct {
	Raw     []evm.RawResult
	Results []evm.CallResult
}

func fetchBatch(reader evm.ContractsReader, key QueryKey, calls []evm.CallDescriptor) query.QueryFunc {
	return func(ctx context.Context) (any, error) {
		raw, err := reader.ReadContracts(ctx, evm.ReadContractsParams{
			AllowFailure: key.AllowFailure,
			Contracts:    calls,
			BlockNumber:  key.BlockNumber,
			BlockTag:     key.BlockTag,
		})
		if err != nil {
			return nil, err
		}
		results, err := evm.DecodeResults(raw, calls, key.AllowFailure)
		if err != nil {
			return nil, err
		}
		return &Batch{Raw: raw, Results: results}, nil
	}
}

func dehydrateBatch(data any) ([]byte, error) {
	b, ok := data.(*Batch)
	if !ok || b == nil {
		return nil, fmt.Errorf("unexpected query data %T", data)
	}
	for i := range b.Raw {
		if b.Raw[i].Error != nil {
			return nil, fmt.Errorf("call %d was never sent: %w", i, b.Raw[i].Error)
		}
	}
	return common.SonicCfg.Marshal(b.Raw)
}

func hydrateBatch(calls []evm.CallDescriptor, allowFailure bool) func([]byte) (any, error) {
	return func(payload []byte) (any, error) {
		var raw []evm.RawResult
		if err := common.SonicCfg.Unmarshal(payload, &raw); err != nil {
			return nil, err
		}
		results, err := evm.DecodeResults(raw, calls, allowFailure)
		if err != nil {
			return nil, err
		}
		return &Batch{Raw: raw, Results: results}, nil
	}
}

// shareBatch keeps the previous batch when its results did not change.
func shareBatch(custom func(prev, next []evm.CallResult) []evm.CallResult) func(prev, next any) any {
	return func(prev, next any) any {
		p, okPrev := prev.(*Batch)
		n, okNext := next.(*Batch)
		if !okPrev || !okNext || p == nil || n == nil {
			return next
		}
		if custom == nil {
			return query.DefaultStructuralSharing(p, n)
		}
		shared := custom(p.Results, n.Results)
		if sameSlice(shared, p.Results) {
			return p
		}
		return &Batch{Raw: n.Raw, Results: shared}
	}
}

func batchEqual(custom func(prev, next []evm.CallResult) bool) func(prev, next any) bool {
	if custom == nil {
		return nil
	}
	return func(prev, next any) bool {
		p, okPrev := prev.(*Batch)
		n, okNext := next.(*Batch)
		if !okPrev || !okNext || p == nil || n == nil {
			return util.DeepEqual(prev, next)
		}
		return custom(p.Results, n.Results)
	}
}

func sameSlice(a, b []evm.CallResult) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}
