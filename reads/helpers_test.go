package reads

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/query"
	"github.com/erpc/contractreads/util"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func init() {
	util.ConfigureTestLogger()
}

const erc20AbiJson = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var (
	tokenAddress = gethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	userAddress  = gethcommon.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func mustParseAbi(t *testing.T) *abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20AbiJson))
	require.NoError(t, err)
	return &parsed
}

func balanceOfCall(contractAbi *abi.ABI) evm.CallDescriptor {
	return evm.CallDescriptor{
		Address:      tokenAddress,
		FunctionName: "balanceOf",
		Args:         []interface{}{userAddress},
		Abi:          contractAbi,
	}
}

func packUint(t *testing.T, contractAbi *abi.ABI, fn string, v int64) []byte {
	t.Helper()
	out, err := contractAbi.Methods[fn].Outputs.Pack(big.NewInt(v))
	require.NoError(t, err)
	return out
}

type fakeReader struct {
	mu      sync.Mutex
	params  []evm.ReadContractsParams
	respond func(n int, params evm.ReadContractsParams) ([]evm.RawResult, error)
}

func (f *fakeReader) ReadContracts(ctx context.Context, params evm.ReadContractsParams) ([]evm.RawResult, error) {
	f.mu.Lock()
	f.params = append(f.params, params)
	n := len(f.params)
	f.mu.Unlock()
	return f.respond(n, params)
}

func (f *fakeReader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.params)
}

func (f *fakeReader) Params(i int) evm.ReadContractsParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[i]
}

type fakeBlocks struct {
	mu     sync.Mutex
	latest uint64
	nextId int
	subs   map[int]func(uint64)
}

func newFakeBlocks(latest uint64) *fakeBlocks {
	return &fakeBlocks{latest: latest, subs: make(map[int]func(uint64))}
}

func (f *fakeBlocks) SubscribeNewBlock(fn func(blockNumber uint64)) func() {
	f.mu.Lock()
	id := f.nextId
	f.nextId++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeBlocks) LatestBlockNumber() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeBlocks) Emit(bn uint64) {
	f.mu.Lock()
	f.latest = bn
	subs := make([]func(uint64), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(bn)
	}
}

func (f *fakeBlocks) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newTestDeps(t *testing.T, reader evm.ContractsReader, blocks evm.BlockSubscriber) Deps {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := log.Logger
	return Deps{
		Logger: &logger,
		Client: query.NewClient(ctx, &logger, nil, nil),
		Reader: reader,
		Blocks: blocks,
		Chain:  evm.StaticChainId(1),
	}
}
