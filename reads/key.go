package reads

import (
	"reflect"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/util"
)

const QueryKeyEntity = "readContracts"

// QueryKey is the cache identity of a batch of contract reads. Zero values stand for omitted
// fields.
type QueryKey struct {
	Entity       string               `json:"entity"`
	AllowFailure bool                 `json:"allowFailure"`
	BlockNumber  uint64               `json:"blockNumber,omitempty"`
	BlockTag     string               `json:"blockTag,omitempty"`
	ChainId      int64                `json:"chainId,omitempty"`
	ScopeKey     string               `json:"scopeKey,omitempty"`
	Contracts    []evm.NormalizedCall `json:"contracts"`
}

type KeyArgs struct {
	AllowFailure bool
	BlockNumber  uint64
	BlockTag     string
	ChainId      int64
	Contracts    []evm.CallDescriptor
	ScopeKey     string
}

// BuildQueryKey derives the key of a batch. The abi of each call is not part of it.
func BuildQueryKey(args KeyArgs) QueryKey {
	return QueryKey{
		Entity:       QueryKeyEntity,
		AllowFailure: args.AllowFailure,
		BlockNumber:  args.BlockNumber,
		BlockTag:     args.BlockTag,
		ChainId:      args.ChainId,
		ScopeKey:     args.ScopeKey,
		Contracts:    evm.NormalizeCalls(args.Contracts),
	}
}

// hashedKey is QueryKey with every argument tagged by its Go type, as arguments that encode to
// the same json (uint8(1) and big.NewInt(1)) are different keys.
type hashedKey struct {
	Entity       string       `json:"entity"`
	AllowFailure bool         `json:"allowFailure"`
	BlockNumber  uint64       `json:"blockNumber,omitempty"`
	BlockTag     string       `json:"blockTag,omitempty"`
	ChainId      int64        `json:"chainId,omitempty"`
	ScopeKey     string       `json:"scopeKey,omitempty"`
	Contracts    []hashedCall `json:"contracts"`
}

type hashedCall struct {
	Address      string     `json:"address"`
	Args         []typedArg `json:"args"`
	ChainId      int64      `json:"chainId,omitempty"`
	FunctionName string     `json:"functionName"`
}

type typedArg struct {
	Type  string      `json:"t"`
	Value interface{} `json:"v"`
}

func tagArg(v interface{}) typedArg {
	if v == nil {
		return typedArg{Type: "nil"}
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() == reflect.Interface {
		elems := make([]typedArg, rv.Len())
		for i := range elems {
			elems[i] = tagArg(rv.Index(i).Interface())
		}
		return typedArg{Type: rv.Type().String(), Value: elems}
	}
	return typedArg{Type: rv.Type().String(), Value: v}
}

// Hash digests the canonical json encoding of the key. Keys json cannot encode (NaN floats,
// channels) fall back to util.CanonicalString, which is deterministic too.
func (k QueryKey) Hash() string {
	view := hashedKey{
		Entity:       k.Entity,
		AllowFailure: k.AllowFailure,
		BlockNumber:  k.BlockNumber,
		BlockTag:     k.BlockTag,
		ChainId:      k.ChainId,
		ScopeKey:     k.ScopeKey,
		Contracts:    make([]hashedCall, len(k.Contracts)),
	}
	for i, c := range k.Contracts {
		args := make([]typedArg, len(c.Args))
		for j, a := range c.Args {
			args[j] = tagArg(a)
		}
		view.Contracts[i] = hashedCall{
			Address:      c.Address.Hex(),
			Args:         args,
			ChainId:      c.ChainId,
			FunctionName: c.FunctionName,
		}
	}
	b, err := common.SonicCanonicalCfg.Marshal(view)
	if err != nil {
		b = []byte("canonical:" + util.CanonicalString(view))
	}
	return util.HashHex(b)
}

func (k QueryKey) Equal(other QueryKey) bool {
	return util.DeepEqual(k, other)
}

type EnabledArgs struct {
	BlockNumber  uint64
	CacheOnBlock bool
	Contracts    []evm.CallDescriptor
	Enabled      bool
}

// IsEnabled reports whether a batch may be read: it must be enabled and every call must carry
// an abi, an address and a function name. With CacheOnBlock a block number is required too.
func IsEnabled(args EnabledArgs) bool {
	if !args.Enabled {
		return false
	}
	for i := range args.Contracts {
		if !args.Contracts[i].IsComplete() {
			return false
		}
	}
	if args.CacheOnBlock && args.BlockNumber == 0 {
		return false
	}
	return true
}
