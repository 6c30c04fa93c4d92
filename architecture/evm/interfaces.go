package evm

import "context"

type ReadContractsParams struct {
	AllowFailure bool
	Contracts    []CallDescriptor
	// BlockNumber of zero means no fixed block.
	BlockNumber uint64
	BlockTag    string
}

// ContractsReader executes a batch of contract reads and returns one RawResult per call.
type ContractsReader interface {
	ReadContracts(ctx context.Context, params ReadContractsParams) ([]RawResult, error)
}

// BlockSubscriber notifies about new blocks of the current chain.
type BlockSubscriber interface {
	SubscribeNewBlock(fn func(blockNumber uint64)) (unsubscribe func())
	LatestBlockNumber() uint64
}

type ChainIdProvider interface {
	CurrentChainId() int64
}
