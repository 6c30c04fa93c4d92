package reads

import (
	"sync"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/query"
)

type Invalidator interface {
	InvalidateOnBlock(key query.Key, blockNumber uint64)
}

// BlockInvalidator invalidates the current key on every new block while it is active.
type BlockInvalidator struct {
	client Invalidator
	blocks evm.BlockSubscriber

	mu          sync.Mutex
	key         query.Key
	unsubscribe func()
	closed      bool
}

func NewBlockInvalidator(client Invalidator, blocks evm.BlockSubscriber) *BlockInvalidator {
	return &BlockInvalidator{client: client, blocks: blocks}
}

// Update sets the key to invalidate and subscribes or unsubscribes depending on active. It is a
// no-op once the invalidator is closed.
func (b *BlockInvalidator) Update(active bool, key query.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.key = key

	if active && b.unsubscribe == nil && b.blocks != nil {
		b.unsubscribe = b.blocks.SubscribeNewBlock(b.onBlock)
	} else if !active && b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}

func (b *BlockInvalidator) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribe != nil
}

func (b *BlockInvalidator) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.key = nil
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}

func (b *BlockInvalidator) onBlock(blockNumber uint64) {
	b.mu.Lock()
	key := b.key
	active := b.unsubscribe != nil
	b.mu.Unlock()

	if active && key != nil {
		b.client.InvalidateOnBlock(key, blockNumber)
	}
}
