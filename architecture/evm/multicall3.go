// Multicall3 aggregate3((address,bool,bytes)[]) expects ABI-encoded calls and
// returns a dynamic array of (bool success, bytes returnData) with offsets
// relative to the array head. This file encodes calldata and decodes results.
package evm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/erpc/contractreads/common"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// safeUint64ToInt converts uint64 to int with overflow protection.
func safeUint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("integer overflow: %d exceeds max int", v)
	}
	return int(v), nil
}

const (
	abiWordSize              = 32
	aggregate3ElementHeadLen = 3 * abiWordSize // address + allowFailure + data offset
)

type Multicall3Call struct {
	Target       gethcommon.Address
	AllowFailure bool
	CallData     []byte
}

// EncodeAggregate3 builds the calldata of an aggregate3 call.
func EncodeAggregate3(calls []Multicall3Call) ([]byte, error) {
	arrayData, err := encodeAggregate3Array(calls)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 4+abiWordSize+len(arrayData))
	out = append(out, multicall3Aggregate3Selector...)
	out = append(out, encodeUint64(abiWordSize)...)
	out = append(out, arrayData...)
	return out, nil
}

func DecodeMulticall3Aggregate3Result(data []byte) ([]RawResult, error) {
	if len(data) < 32 {
		return nil, errors.New("multicall3 result too short")
	}

	offset, err := readUint256(data[:32])
	if err != nil {
		return nil, err
	}
	base, err := safeUint64ToInt(offset)
	if err != nil {
		return nil, fmt.Errorf("multicall3 result offset overflow: %w", err)
	}
	if base < 0 || base+32 > len(data) {
		return nil, errors.New("multicall3 result offset out of bounds")
	}

	count, err := readUint256(data[base : base+32])
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []RawResult{}, nil
	}

	countInt, err := safeUint64ToInt(count)
	if err != nil {
		return nil, fmt.Errorf("multicall3 result count overflow: %w", err)
	}

	offsetsStart := base + 32
	// bounds check before multiplying to avoid overflow
	maxElements := (len(data) - offsetsStart) / 32
	if countInt > maxElements {
		return nil, errors.New("multicall3 result count exceeds available data")
	}

	results := make([]RawResult, countInt)
	for i := 0; i < countInt; i++ {
		offsetStart := offsetsStart + i*32
		offsetVal, err := readUint256(data[offsetStart : offsetStart+32])
		if err != nil {
			return nil, err
		}
		offsetValInt, err := safeUint64ToInt(offsetVal)
		if err != nil {
			return nil, fmt.Errorf("multicall3 result element offset overflow: %w", err)
		}
		elemStart := offsetsStart + offsetValInt
		if elemStart < offsetsStart || elemStart+64 > len(data) {
			return nil, errors.New("multicall3 result element out of bounds")
		}

		success, err := readBool(data[elemStart : elemStart+32])
		if err != nil {
			return nil, err
		}

		dataOffset, err := readUint256(data[elemStart+32 : elemStart+64])
		if err != nil {
			return nil, err
		}
		dataOffsetInt, err := safeUint64ToInt(dataOffset)
		if err != nil {
			return nil, fmt.Errorf("multicall3 result data offset overflow: %w", err)
		}
		bytesStart := elemStart + dataOffsetInt
		if bytesStart < elemStart || bytesStart+32 > len(data) {
			return nil, errors.New("multicall3 result bytes offset out of bounds")
		}

		dataLen, err := readUint256(data[bytesStart : bytesStart+32])
		if err != nil {
			return nil, err
		}
		dataLenInt, err := safeUint64ToInt(dataLen)
		if err != nil {
			return nil, fmt.Errorf("multicall3 result data length overflow: %w", err)
		}
		dataStart := bytesStart + 32
		dataEnd := dataStart + dataLenInt
		if dataEnd < dataStart || dataEnd > len(data) {
			return nil, errors.New("multicall3 result bytes length out of bounds")
		}

		results[i] = RawResult{
			Success:    success,
			ReturnData: append([]byte(nil), data[dataStart:dataEnd]...),
		}
	}

	return results, nil
}

// ShouldFallbackMulticall3 reports whether an aggregate3 failure means the contract is not usable
// on this chain or block, in which case calls are retried one by one. Plain reverts do not qualify,
// they would revert individually as well.
func ShouldFallbackMulticall3(err error) bool {
	if err == nil {
		return false
	}
	if common.HasErrorCode(err, common.ErrCodeMulticall3Unavailable) {
		return true
	}
	var rpcErr *common.ErrJsonRpcException
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.RpcCode == -32601 {
		return true
	}
	errStr := strings.ToLower(rpcErr.Message)
	contractUnavailablePatterns := []string{
		"contract not found",
		"no code at address",
		"code is empty",
		"not a contract",
		"invalid opcode",
		"missing trie node",
		"does not exist",
		"account not found",
	}
	for _, pattern := range contractUnavailablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func encodeAggregate3Array(calls []Multicall3Call) ([]byte, error) {
	// length word, then one offset word per element, then the elements.
	// Offsets are relative to the first offset word.
	offsetTableSize := abiWordSize * len(calls)
	elements := make([][]byte, len(calls))
	offsets := make([]uint64, len(calls))
	cur := uint64(offsetTableSize) // #nosec G115

	for i, call := range calls {
		elem := encodeAggregate3Element(call)
		elements[i] = elem
		offsets[i] = cur
		cur += uint64(len(elem))
	}

	capacity, err := safeUint64ToInt(cur + abiWordSize)
	if err != nil {
		return nil, fmt.Errorf("multicall3 encoded data too large: %w", err)
	}
	out := make([]byte, 0, capacity)
	out = append(out, encodeUint64(uint64(len(calls)))...)
	for _, off := range offsets {
		out = append(out, encodeUint64(off)...)
	}
	for _, elem := range elements {
		out = append(out, elem...)
	}
	return out, nil
}

func encodeAggregate3Element(call Multicall3Call) []byte {
	head := make([]byte, 0, aggregate3ElementHeadLen)
	head = append(head, encodeAddress(call.Target)...)
	head = append(head, encodeBool(call.AllowFailure)...)
	head = append(head, encodeUint64(aggregate3ElementHeadLen)...)
	return append(head, encodeBytes(call.CallData)...)
}

func encodeAddress(addr gethcommon.Address) []byte {
	out := make([]byte, 32)
	copy(out[32-gethcommon.AddressLength:], addr.Bytes())
	return out
}

func encodeBool(value bool) []byte {
	out := make([]byte, 32)
	if value {
		out[31] = 1
	}
	return out
}

func encodeUint64(value uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], value)
	return out
}

func encodeBytes(data []byte) []byte {
	out := make([]byte, 0, abiWordSize+len(data)+abiWordSize)
	out = append(out, encodeUint64(uint64(len(data)))...)
	out = append(out, data...)
	pad := (abiWordSize - (len(data) % abiWordSize)) % abiWordSize
	if pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	return out
}

func readUint256(data []byte) (uint64, error) {
	if len(data) != 32 {
		return 0, errors.New("invalid uint256 length")
	}
	val := new(big.Int).SetBytes(data)
	if !val.IsUint64() {
		return 0, errors.New("uint256 overflows uint64")
	}
	return val.Uint64(), nil
}

func readBool(data []byte) (bool, error) {
	val, err := readUint256(data)
	if err != nil {
		return false, err
	}
	return val != 0, nil
}

var multicall3Aggregate3Selector = func() []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte("aggregate3((address,bool,bytes)[])"))
	sum := hasher.Sum(nil)
	return sum[:4]
}()
