package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	t.Run("FetchesOnWatch", func(t *testing.T) {
		client := newTestClient(t, nil)
		var calls atomic.Int32
		obs := client.Watch(Options{
			Key:     testKey("mount"),
			Enabled: true,
			Fn:      countingFn(&calls, func(n int32) (any, error) { return "data", nil }),
		})
		defer obs.Close()

		assert.Eventually(t, func() bool { return obs.Result().IsSuccess() }, time.Second, 5*time.Millisecond)
		assert.Equal(t, "data", obs.Result().Data)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("DisabledObserverIsInert", func(t *testing.T) {
		client := newTestClient(t, nil)
		var calls atomic.Int32
		opts := Options{
			Key: testKey("disabled"),
			Fn:  countingFn(&calls, func(n int32) (any, error) { return "data", nil }),
		}
		obs := client.Watch(opts)
		defer obs.Close()

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
		assert.True(t, obs.Result().IsIdle())
		assert.Nil(t, obs.Result().Data)

		opts.Enabled = true
		obs.SetOptions(opts)
		assert.Eventually(t, func() bool { return obs.Result().IsSuccess() }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("DisabledObserverIgnoresInvalidation", func(t *testing.T) {
		client := newTestClient(t, nil)
		client.SetQueryData(testKey("disabled-invalidate"), "seeded")
		var calls atomic.Int32
		obs := client.Watch(Options{
			Key: testKey("disabled-invalidate"),
			Fn:  countingFn(&calls, func(n int32) (any, error) { return "data", nil }),
		})
		defer obs.Close()

		client.Invalidate(testKey("disabled-invalidate"))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
		assert.Equal(t, "seeded", obs.Result().Data)
		assert.True(t, obs.Result().IsStale)
	})

	t.Run("InvalidationRefetches", func(t *testing.T) {
		client := newTestClient(t, nil)
		var calls atomic.Int32
		obs := client.Watch(Options{
			Key:       testKey("invalidate"),
			Enabled:   true,
			StaleTime: time.Hour,
			Fn:        countingFn(&calls, func(n int32) (any, error) { return n, nil }),
		})
		defer obs.Close()

		assert.Eventually(t, func() bool { return obs.Result().IsSuccess() }, time.Second, 5*time.Millisecond)
		client.Invalidate(testKey("invalidate"))

		assert.Eventually(t, func() bool { return obs.Result().Data == int32(2) }, time.Second, 5*time.Millisecond)
		assert.False(t, obs.Result().IsStale)
	})

	t.Run("InvalidationDuringFetchRefetchesAfterwards", func(t *testing.T) {
		client := newTestClient(t, nil)
		release := make(chan struct{})
		var calls atomic.Int32
		obs := client.Watch(Options{
			Key:       testKey("invalidate-inflight"),
			Enabled:   true,
			StaleTime: time.Hour,
			Fn: func(ctx context.Context) (any, error) {
				n := calls.Add(1)
				if n == 1 {
					<-release
				}
				return n, nil
			},
		})
		defer obs.Close()

		assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		client.Invalidate(testKey("invalidate-inflight"))
		close(release)

		assert.Eventually(t, func() bool { return obs.Result().Data == int32(2) }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("StaleTimeRefetches", func(t *testing.T) {
		client := newTestClient(t, nil)
		var calls atomic.Int32
		obs := client.Watch(Options{
			Key:       testKey("stale-timer"),
			Enabled:   true,
			StaleTime: 30 * time.Millisecond,
			Fn:        countingFn(&calls, func(n int32) (any, error) { return n, nil }),
		})
		defer obs.Close()

		assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("KeepPreviousData", func(t *testing.T) {
		client := newTestClient(t, nil)
		release := make(chan struct{})
		opts := Options{
			Key:              testKey("page-1"),
			Enabled:          true,
			StaleTime:        time.Hour,
			KeepPreviousData: true,
			Fn:               func(ctx context.Context) (any, error) { return "first", nil },
		}
		obs := client.Watch(opts)
		defer obs.Close()
		assert.Eventually(t, func() bool { return obs.Result().IsSuccess() }, time.Second, 5*time.Millisecond)

		opts.Key = testKey("page-2")
		opts.Fn = func(ctx context.Context) (any, error) {
			<-release
			return "second", nil
		}
		obs.SetOptions(opts)

		res := obs.Result()
		assert.Equal(t, "first", res.Data)
		assert.True(t, res.IsPreviousData)
		assert.Equal(t, StatusSuccess, res.Status)

		close(release)
		assert.Eventually(t, func() bool { return obs.Result().Data == "second" }, time.Second, 5*time.Millisecond)
		assert.False(t, obs.Result().IsPreviousData)
	})

	t.Run("KeyChangeWithoutKeepPreviousData", func(t *testing.T) {
		client := newTestClient(t, nil)
		release := make(chan struct{})
		defer close(release)
		opts := Options{
			Key:       testKey("plain-1"),
			Enabled:   true,
			StaleTime: time.Hour,
			Fn:        func(ctx context.Context) (any, error) { return "first", nil },
		}
		obs := client.Watch(opts)
		defer obs.Close()
		assert.Eventually(t, func() bool { return obs.Result().IsSuccess() }, time.Second, 5*time.Millisecond)

		opts.Key = testKey("plain-2")
		opts.Fn = func(ctx context.Context) (any, error) {
			<-release
			return "second", nil
		}
		obs.SetOptions(opts)

		res := obs.Result()
		assert.Nil(t, res.Data)
		assert.False(t, res.IsPreviousData)
	})

	t.Run("SubscribersSeeUpdates", func(t *testing.T) {
		client := newTestClient(t, nil)
		var mu sync.Mutex
		var seen []Status
		obs := client.Watch(Options{
			Key: testKey("subscribe"),
			Fn:  func(ctx context.Context) (any, error) { return "v", nil },
		})
		defer obs.Close()
		unsubscribe := obs.Subscribe(func(r Result) {
			mu.Lock()
			seen = append(seen, r.Status)
			mu.Unlock()
		})

		client.SetQueryData(testKey("subscribe"), "manual")
		mu.Lock()
		assert.Equal(t, []Status{StatusSuccess}, seen)
		mu.Unlock()

		unsubscribe()
		client.SetQueryData(testKey("subscribe"), "again")
		mu.Lock()
		assert.Len(t, seen, 1)
		mu.Unlock()
	})

	t.Run("CallbacksFireForEnabledObservers", func(t *testing.T) {
		client := newTestClient(t, nil)
		successes := make(chan any, 4)
		settled := make(chan error, 4)
		obs := client.Watch(Options{
			Key:       testKey("callbacks"),
			Enabled:   true,
			StaleTime: time.Hour,
			Fn:        func(ctx context.Context) (any, error) { return "ok", nil },
			OnSuccess: func(data any) { successes <- data },
			OnSettled: func(data any, err error) { settled <- err },
		})
		defer obs.Close()

		select {
		case data := <-successes:
			assert.Equal(t, "ok", data)
		case <-time.After(time.Second):
			t.Fatal("OnSuccess was not called")
		}
		select {
		case err := <-settled:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("OnSettled was not called")
		}
	})

	t.Run("OnErrorReceivesFetchError", func(t *testing.T) {
		client := newTestClient(t, nil)
		boom := errors.New("boom")
		errs := make(chan error, 4)
		obs := client.Watch(Options{
			Key:     testKey("on-error"),
			Enabled: true,
			Fn:      func(ctx context.Context) (any, error) { return nil, boom },
			OnError: func(err error) { errs <- err },
		})
		defer obs.Close()

		select {
		case err := <-errs:
			assert.ErrorIs(t, err, boom)
		case <-time.After(time.Second):
			t.Fatal("OnError was not called")
		}
		assert.Eventually(t, func() bool { return obs.Result().IsError() }, time.Second, 5*time.Millisecond)
	})

	t.Run("ClosingLastObserverCancelsFetch", func(t *testing.T) {
		client := newTestClient(t, nil)
		cancelled := make(chan struct{})
		var calls atomic.Int32
		obs := client.Watch(Options{
			Key:     testKey("cancel"),
			Enabled: true,
			Fn: func(ctx context.Context) (any, error) {
				calls.Add(1)
				<-ctx.Done()
				close(cancelled)
				return "late", nil
			},
		})

		assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		obs.Close()

		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("fetch context was not cancelled")
		}
		assert.Eventually(t, func() bool {
			st, ok := client.GetQueryState(testKey("cancel"))
			return ok && st.FetchStatus == FetchStatusIdle
		}, time.Second, 5*time.Millisecond)
		_, ok := client.GetQueryData(testKey("cancel"))
		assert.False(t, ok)
	})

	t.Run("FetchContinuesWhileAnotherObserverWaits", func(t *testing.T) {
		client := newTestClient(t, nil)
		release := make(chan struct{})
		opts := Options{
			Key:       testKey("shared"),
			Enabled:   true,
			StaleTime: time.Hour,
			Fn: func(ctx context.Context) (any, error) {
				select {
				case <-release:
					return "done", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		}
		first := client.Watch(opts)
		second := client.Watch(opts)
		defer second.Close()

		first.Close()
		close(release)

		assert.Eventually(t, func() bool { return second.Result().Data == "done" }, time.Second, 5*time.Millisecond)
	})

	t.Run("RefetchRunsEvenWhenDisabled", func(t *testing.T) {
		client := newTestClient(t, nil)
		var calls atomic.Int32
		obs := client.Watch(Options{
			Key: testKey("refetch"),
			Fn:  countingFn(&calls, func(n int32) (any, error) { return n, nil }),
		})
		defer obs.Close()

		res, err := obs.Refetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(1), res.Data)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("UpdateOptionsLeavesNotificationToCaller", func(t *testing.T) {
		client := newTestClient(t, nil)
		client.SetQueryData(testKey("deferred-b"), "b")
		obs := client.Watch(Options{Key: testKey("deferred-a")})

		var seen atomic.Int32
		var last atomic.Value
		obs.Subscribe(func(r Result) {
			seen.Add(1)
			last.Store(r.Data)
		})

		emit := obs.UpdateOptions(Options{Key: testKey("deferred-b")})
		assert.Equal(t, int32(0), seen.Load())
		emit()
		assert.Equal(t, int32(1), seen.Load())
		assert.Equal(t, "b", last.Load())

		obs.Close()
		obs.UpdateOptions(Options{Key: testKey("deferred-a")})()
		assert.Equal(t, int32(1), seen.Load())
	})
}
