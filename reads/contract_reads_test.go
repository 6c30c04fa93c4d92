package reads

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/query"
	"github.com/erpc/contractreads/util"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func balanceReader(t *testing.T, contractAbi *abi.ABI) *fakeReader {
	return &fakeReader{
		respond: func(n int, params evm.ReadContractsParams) ([]evm.RawResult, error) {
			out := make([]evm.RawResult, len(params.Contracts))
			for i := range out {
				out[i] = evm.RawResult{Success: true, ReturnData: packUint(t, contractAbi, "balanceOf", 100)}
			}
			return out, nil
		},
	}
}

func TestContractReads(t *testing.T) {
	contractAbi := mustParseAbi(t)

	t.Run("WatchInvalidatesOnNewBlockWithSameKey", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		blocks := newFakeBlocks(100)
		deps := newTestDeps(t, reader, blocks)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Scope:     evm.Watch(true),
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.True(t, cr.Enabled())
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		assert.Equal(t, 1, reader.Calls())
		keyBefore := cr.Key()
		assert.Zero(t, keyBefore.BlockNumber)

		blocks.Emit(101)
		assert.Eventually(t, func() bool { return reader.Calls() == 2 }, waitFor, tick)
		assert.True(t, keyBefore.Equal(cr.Key()))
		assert.Zero(t, reader.Params(0).BlockNumber)
		assert.Zero(t, reader.Params(1).BlockNumber)

		data := cr.Result().Data
		require.Len(t, data, 1)
		assert.Equal(t, "100", data[0].Result.(interface{ String() string }).String())
	})

	t.Run("CacheOnBlockFoldsBlockIntoKey", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		blocks := newFakeBlocks(10)
		deps := newTestDeps(t, reader, blocks)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Scope:        evm.Watch(true),
			CacheOnBlock: true,
			Contracts:    []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		keyAt10 := cr.Key()
		assert.Equal(t, uint64(10), keyAt10.BlockNumber)

		blocks.Emit(11)
		assert.Eventually(t, func() bool { return reader.Calls() == 2 }, waitFor, tick)
		assert.Equal(t, uint64(11), cr.Key().BlockNumber)
		assert.False(t, keyAt10.Equal(cr.Key()))
		assert.Equal(t, uint64(11), reader.Params(1).BlockNumber)
	})

	t.Run("BlockChangesDoNotChangeKeyWithoutCacheOnBlock", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		blocks := newFakeBlocks(10)
		deps := newTestDeps(t, reader, blocks)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		key := cr.Key()
		blocks.Emit(11)
		time.Sleep(30 * time.Millisecond)

		assert.True(t, key.Equal(cr.Key()))
		assert.Equal(t, 1, reader.Calls())
		assert.Equal(t, 0, blocks.Subscribers())
	})

	t.Run("CacheOnBlockWaitsForFirstBlock", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		blocks := newFakeBlocks(0)
		deps := newTestDeps(t, reader, blocks)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			CacheOnBlock: true,
			Contracts:    []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		time.Sleep(30 * time.Millisecond)
		assert.False(t, cr.Enabled())
		assert.Equal(t, 0, reader.Calls())

		blocks.Emit(5)
		assert.Eventually(t, func() bool { return reader.Calls() == 1 }, waitFor, tick)
		assert.True(t, cr.Enabled())
		assert.Equal(t, uint64(5), reader.Params(0).BlockNumber)
		// without watch the first block is kept
		assert.Equal(t, 0, blocks.Subscribers())
	})

	t.Run("FixedBlockNumberIsReadAndKeyed", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Scope:     evm.AtBlockNumber(1234),
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.Eventually(t, func() bool { return reader.Calls() == 1 }, waitFor, tick)
		assert.Equal(t, uint64(1234), reader.Params(0).BlockNumber)
		assert.Equal(t, uint64(1234), cr.Key().BlockNumber)
	})

	t.Run("BlockTagIsPassedThrough", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Scope:     evm.AtBlockTag("safe"),
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.Eventually(t, func() bool { return reader.Calls() == 1 }, waitFor, tick)
		assert.Equal(t, "safe", reader.Params(0).BlockTag)
		assert.Equal(t, "safe", cr.Key().BlockTag)
	})

	t.Run("OneRevertAmongThree", func(t *testing.T) {
		reader := &fakeReader{
			respond: func(n int, params evm.ReadContractsParams) ([]evm.RawResult, error) {
				return []evm.RawResult{
					{Success: true, ReturnData: packUint(t, contractAbi, "balanceOf", 1)},
					{Success: false},
					{Success: true, ReturnData: packUint(t, contractAbi, "totalSupply", 3)},
				}, nil
			},
		}
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{
				balanceOfCall(contractAbi),
				{Address: tokenAddress, FunctionName: "symbol", Abi: contractAbi},
				{Address: tokenAddress, FunctionName: "totalSupply", Abi: contractAbi},
			},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		data := cr.Result().Data
		require.Len(t, data, 3)
		assert.True(t, data[0].IsSuccess())
		assert.False(t, data[1].IsSuccess())
		assert.Equal(t, evm.CallErrorRevert, data[1].Error.Kind)
		assert.Equal(t, 1, data[1].Error.Index)
		assert.True(t, data[2].IsSuccess())
		assert.True(t, reader.Params(0).AllowFailure)
	})

	t.Run("RevertFailsBatchWithoutAllowFailure", func(t *testing.T) {
		reader := &fakeReader{
			respond: func(n int, params evm.ReadContractsParams) ([]evm.RawResult, error) {
				return []evm.RawResult{{Success: false}}, nil
			},
		}
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			AllowFailure: util.BoolPtr(false),
			Contracts:    []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.Eventually(t, func() bool { return cr.Result().IsError() }, waitFor, tick)
		res := cr.Result()
		assert.True(t, common.HasErrorCode(res.Error, common.ErrCodeCallReverted))
		assert.False(t, res.HasData)
	})

	t.Run("TransportErrorBecomesQueryError", func(t *testing.T) {
		boom := common.NewErrTransport("http://rpc", errors.New("connection refused"))
		reader := &fakeReader{
			respond: func(n int, params evm.ReadContractsParams) ([]evm.RawResult, error) {
				return nil, boom
			},
		}
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		assert.Eventually(t, func() bool { return cr.Result().IsError() }, waitFor, tick)
		assert.ErrorIs(t, cr.Result().Error, boom)
	})

	t.Run("RefetchKeepsIdentityOfEqualData", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		first := cr.Result().Data

		second, err := cr.Refetch(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, reader.Calls())
		require.Len(t, second.Data, 1)
		assert.Same(t, &first[0], &second.Data[0])
	})

	t.Run("RefetchReplacesChangedData", func(t *testing.T) {
		reader := &fakeReader{
			respond: func(n int, params evm.ReadContractsParams) ([]evm.RawResult, error) {
				return []evm.RawResult{{Success: true, ReturnData: packUint(t, contractAbi, "balanceOf", int64(n))}}, nil
			},
		}
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		first := cr.Result().Data

		second, err := cr.Refetch(context.Background())
		require.NoError(t, err)
		assert.NotSame(t, &first[0], &second.Data[0])
	})

	t.Run("DisabledIsInert", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, newFakeBlocks(1))

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Enabled:   util.BoolPtr(false),
			Scope:     evm.Watch(true),
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()

		time.Sleep(30 * time.Millisecond)
		assert.False(t, cr.Enabled())
		assert.Equal(t, 0, reader.Calls())
		assert.Equal(t, query.StatusIdle, cr.Result().Status)
	})

	t.Run("IncompleteCallDisablesRead", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Enabled:   util.BoolPtr(true),
			Contracts: []evm.CallDescriptor{balanceOfCall(nil)},
		})
		require.NoError(t, err)
		defer cr.Close()

		time.Sleep(30 * time.Millisecond)
		assert.False(t, cr.Enabled())
		assert.Equal(t, 0, reader.Calls())
	})

	t.Run("SelectProjectsResults", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)

		cr, err := New(context.Background(), deps, Config[int]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi), balanceOfCall(contractAbi)},
			Select:    func(results []evm.CallResult) int { return len(results) },
			Suspense:  true,
		})
		require.NoError(t, err)
		defer cr.Close()

		res := cr.Result()
		assert.True(t, res.IsSuccess())
		assert.Equal(t, 2, res.Data)
	})

	t.Run("SelectIsRequiredForOtherDataTypes", func(t *testing.T) {
		deps := newTestDeps(t, balanceReader(t, contractAbi), nil)
		_, err := New(context.Background(), deps, Config[int]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidConfig))
	})

	t.Run("InvalidBlockTagIsRejected", func(t *testing.T) {
		deps := newTestDeps(t, balanceReader(t, contractAbi), nil)
		_, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Scope:     evm.AtBlockTag("tomorrow"),
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidConfig))
	})

	t.Run("WatchNeedsBlockSubscriber", func(t *testing.T) {
		deps := newTestDeps(t, balanceReader(t, contractAbi), nil)
		_, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Scope:     evm.Watch(true),
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidConfig))
	})

	t.Run("SuspenseHonoursContext", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		reader := &fakeReader{
			respond: func(n int, params evm.ReadContractsParams) ([]evm.RawResult, error) {
				<-release
				return nil, errors.New("late")
			},
		}
		deps := newTestDeps(t, reader, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := New(ctx, deps, Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
			Suspense:  true,
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("UpdateMovesToNewKey", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)
		cfg := Config[[]evm.CallResult]{
			Contracts:        []evm.CallDescriptor{balanceOfCall(contractAbi)},
			KeepPreviousData: true,
		}
		cr, err := New(context.Background(), deps, cfg)
		require.NoError(t, err)
		defer cr.Close()
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		firstKey := cr.Key()

		cfg.ScopeKey = "second"
		require.NoError(t, cr.Update(cfg))

		assert.False(t, firstKey.Equal(cr.Key()))
		assert.Equal(t, "second", cr.Key().ScopeKey)
		assert.Eventually(t, func() bool { return reader.Calls() == 2 }, waitFor, tick)
		assert.Eventually(t, func() bool {
			r := cr.Result()
			return r.IsSuccess() && !r.IsPreviousData
		}, waitFor, tick)
	})

	t.Run("UpdateWithSameValuesKeepsKey", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)
		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		defer cr.Close()
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)

		require.NoError(t, cr.Update(Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		}))
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, 1, reader.Calls())
		assert.Equal(t, 1, cr.enabledMemo.Computations())
		assert.Equal(t, 1, cr.keyMemo.Computations())
	})

	t.Run("CallbacksReceiveProjectedData", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)
		got := make(chan int, 2)
		settled := make(chan error, 2)

		cr, err := New(context.Background(), deps, Config[int]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
			Select:    func(results []evm.CallResult) int { return len(results) },
			OnSuccess: func(n int) { got <- n },
			OnSettled: func(n int, err error) { settled <- err },
		})
		require.NoError(t, err)
		defer cr.Close()

		select {
		case n := <-got:
			assert.Equal(t, 1, n)
		case <-time.After(waitFor):
			t.Fatal("OnSuccess was not called")
		}
		select {
		case err := <-settled:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("OnSettled was not called")
		}
	})

	t.Run("CloseUnsubscribesFromBlocks", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		blocks := newFakeBlocks(1)
		deps := newTestDeps(t, reader, blocks)

		cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
			Scope:        evm.Watch(true),
			CacheOnBlock: true,
			Contracts:    []evm.CallDescriptor{balanceOfCall(contractAbi)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, blocks.Subscribers())

		cr.Close()
		assert.Equal(t, 0, blocks.Subscribers())
	})

	t.Run("BlockNumberScopeIsKeyedWithoutCacheOnBlock", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)
		open := func(bn uint64) *ContractReads[[]evm.CallResult] {
			cr, err := New(context.Background(), deps, Config[[]evm.CallResult]{
				Scope:     evm.AtBlockNumber(bn),
				Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
			})
			require.NoError(t, err)
			t.Cleanup(cr.Close)
			return cr
		}

		at5, at6 := open(5), open(6)

		// an explicit block number is part of the key even when CacheOnBlock is off
		assert.Equal(t, uint64(5), at5.Key().BlockNumber)
		assert.Equal(t, uint64(6), at6.Key().BlockNumber)
		assert.False(t, at5.Key().Equal(at6.Key()))
		assert.NotEqual(t, at5.Key().Hash(), at6.Key().Hash())
		assert.Eventually(t, func() bool { return reader.Calls() == 2 }, waitFor, tick)
	})

	t.Run("SubscriberMayUpdate", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		deps := newTestDeps(t, reader, nil)
		cfg := Config[[]evm.CallResult]{
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		}
		cr, err := New(context.Background(), deps, cfg)
		require.NoError(t, err)
		defer cr.Close()
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)

		var fired atomic.Bool
		unsubscribe := cr.Subscribe(func(Result[[]evm.CallResult]) {
			if fired.CompareAndSwap(false, true) {
				next := cfg
				next.ScopeKey = "from-subscriber"
				assert.NoError(t, cr.Update(next))
			}
		})
		defer unsubscribe()

		done := make(chan error, 1)
		go func() {
			next := cfg
			next.ScopeKey = "from-caller"
			done <- cr.Update(next)
		}()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Update did not return while a subscriber updated the reads")
		}

		assert.True(t, fired.Load())
		assert.Eventually(t, func() bool { return cr.Key().ScopeKey == "from-subscriber" }, waitFor, tick)
	})

	t.Run("SubscriberMayUpdateOnNewBlock", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		blocks := newFakeBlocks(10)
		deps := newTestDeps(t, reader, blocks)
		cfg := Config[[]evm.CallResult]{
			Scope:        evm.Watch(true),
			CacheOnBlock: true,
			Contracts:    []evm.CallDescriptor{balanceOfCall(contractAbi)},
		}
		cr, err := New(context.Background(), deps, cfg)
		require.NoError(t, err)
		defer cr.Close()
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)

		var fired atomic.Bool
		unsubscribe := cr.Subscribe(func(Result[[]evm.CallResult]) {
			if fired.CompareAndSwap(false, true) {
				next := cfg
				next.ScopeKey = "moved"
				assert.NoError(t, cr.Update(next))
			}
		})
		defer unsubscribe()

		done := make(chan struct{})
		go func() {
			blocks.Emit(11)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("block delivery did not return while a subscriber updated the reads")
		}

		assert.Eventually(t, func() bool {
			key := cr.Key()
			return key.ScopeKey == "moved" && key.BlockNumber == 11
		}, waitFor, tick)
	})

	t.Run("CloseFromSubscriberStopsBlockInvalidation", func(t *testing.T) {
		reader := balanceReader(t, contractAbi)
		blocks := newFakeBlocks(1)
		deps := newTestDeps(t, reader, blocks)
		cfg := Config[[]evm.CallResult]{
			Scope:     evm.Watch(true),
			Contracts: []evm.CallDescriptor{balanceOfCall(contractAbi)},
		}
		cr, err := New(context.Background(), deps, cfg)
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return cr.Result().IsSuccess() }, waitFor, tick)
		assert.True(t, cr.invalidator.Active())

		var fired atomic.Bool
		closed := make(chan struct{})
		cr.Subscribe(func(Result[[]evm.CallResult]) {
			if fired.CompareAndSwap(false, true) {
				cr.Close()
				close(closed)
			}
		})

		cfg.ScopeKey = "next"
		require.NoError(t, cr.Update(cfg))
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not close the reads")
		}

		cfg.ScopeKey = "after-close"
		require.NoError(t, cr.Update(cfg))
		blocks.Emit(2)

		assert.False(t, cr.invalidator.Active())
		assert.Equal(t, 0, blocks.Subscribers())
		assert.Equal(t, "next", cr.Key().ScopeKey)
	})
}
