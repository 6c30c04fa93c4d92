package evm

import (
	"context"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/erpc/contractreads/clients"
	"github.com/erpc/contractreads/common"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

const erc20AbiJson = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"error","name":"InsufficientBalance","inputs":[{"name":"available","type":"uint256"},{"name":"required","type":"uint256"}]}
]`

const multicall3AbiJson = `[{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

var (
	tokenA = gethcommon.HexToAddress("0x000000000000000000000000000000000000000A")
	tokenB = gethcommon.HexToAddress("0x000000000000000000000000000000000000000B")
	user   = gethcommon.HexToAddress("0x00000000000000000000000000000000000000Ee")
)

func mustAbi(t *testing.T, source string) *abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(source))
	require.NoError(t, err)
	return &parsed
}

func packOutputs(t *testing.T, a *abi.ABI, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := a.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func revertData(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	return append(hexutil.MustDecode("0x08c379a0"), packed...)
}

type aggregate3Result struct {
	Success    bool
	ReturnData []byte
}

// packAggregate3Result encodes what the Multicall3 contract would return for results.
func packAggregate3Result(t *testing.T, results ...aggregate3Result) string {
	t.Helper()
	mc := mustAbi(t, multicall3AbiJson)
	packed, err := mc.Methods["aggregate3"].Outputs.Pack(results)
	require.NoError(t, err)
	return hexutil.Encode(packed)
}

type decodedCall3 struct {
	Target       gethcommon.Address
	AllowFailure bool
	CallData     []byte
}

func unpackAggregate3Calldata(t *testing.T, data []byte) []decodedCall3 {
	t.Helper()
	mc := mustAbi(t, multicall3AbiJson)
	method := mc.Methods["aggregate3"]
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	list := reflect.ValueOf(args[0])
	out := make([]decodedCall3, list.Len())
	for i := range out {
		item := list.Index(i)
		out[i] = decodedCall3{
			Target:       item.FieldByName("Target").Interface().(gethcommon.Address),
			AllowFailure: item.FieldByName("AllowFailure").Bool(),
			CallData:     item.FieldByName("CallData").Bytes(),
		}
	}
	return out
}

func bigInt(v int64) *big.Int {
	return big.NewInt(v)
}

type singleClientProvider struct {
	clients map[int64]clients.JsonRpcClient
}

func (p *singleClientProvider) ClientForChain(chainId int64, currentChainId int64) (clients.JsonRpcClient, error) {
	if c, ok := p.clients[chainId]; ok {
		return c, nil
	}
	return nil, common.NewErrChainClientNotFound(chainId)
}

func newTestRegistry(t *testing.T, endpoints map[int64]string) *clients.ClientRegistry {
	t.Helper()
	logger := log.Logger
	return clients.NewClientRegistry(context.Background(), &logger, &common.RpcConfig{Endpoints: endpoints})
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hexutil.Decode(s)
	require.NoError(t, err)
	return b
}
