package common

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Multiplexer provides a way to deduplicate concurrent operations with the same key.
// It ensures that only one operation is executed while others wait for the result.
type Multiplexer[T any] struct {
	key    string
	result T
	err    error
	done   chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func NewMultiplexer[T any](key string) *Multiplexer[T] {
	return &Multiplexer[T]{
		key:  key,
		done: make(chan struct{}),
	}
}

func (m *Multiplexer[T]) Key() string {
	return m.key
}

// Close signals that the operation is complete. Only the first call has any effect.
func (m *Multiplexer[T]) Close(ctx context.Context, result T, err error) {
	_, span := StartDetailSpan(ctx, "Multiplexer.Close",
		trace.WithAttributes(attribute.String("key", m.key)),
	)
	defer span.End()

	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.result = result
		m.err = err
		close(m.done)
	})
}

// Done returns a channel that is closed when the operation completes.
func (m *Multiplexer[T]) Done() <-chan struct{} {
	return m.done
}

// Result returns the result and error from the completed operation.
// It should only be called after Done() channel is closed.
func (m *Multiplexer[T]) Result() (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result, m.err
}

// Wait blocks until the operation completes or ctx is done.
func (m *Multiplexer[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-m.done:
		return m.Result()
	case <-ctx.Done():
		return *new(T), ctx.Err()
	}
}

// AcquireMultiplexer returns the multiplexer registered under key, creating it if absent.
// The returned flag is true when the caller is the leader and must eventually call Close
// and Release.
func AcquireMultiplexer[T any](registry *sync.Map, key string) (*Multiplexer[T], bool) {
	existingMux, loaded := registry.LoadOrStore(key, NewMultiplexer[T](key))
	return existingMux.(*Multiplexer[T]), !loaded
}

// ReleaseMultiplexer removes mux from the registry if it is still the one registered under its key.
func ReleaseMultiplexer[T any](registry *sync.Map, mux *Multiplexer[T]) {
	registry.CompareAndDelete(mux.key, mux)
}

// ExecuteMultiplexed ensures that only one operation with the same key is executed at a time,
// while other callers wait for the result.
func ExecuteMultiplexed[T any](
	ctx context.Context,
	registry *sync.Map,
	key string,
	operation func(context.Context) (T, error),
) (T, error) {
	_, span := StartDetailSpan(ctx, "Multiplexer.ExecuteMultiplexed",
		trace.WithAttributes(attribute.String("key", key)),
	)
	defer span.End()

	mux, leader := AcquireMultiplexer[T](registry, key)
	if !leader {
		return mux.Wait(ctx)
	}
	defer ReleaseMultiplexer(registry, mux)

	result, err := operation(ctx)
	mux.Close(ctx, result, err)

	return result, err
}
