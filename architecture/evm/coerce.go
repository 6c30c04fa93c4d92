package evm

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CoerceArgs converts loosely typed values (as decoded from yaml or json) into the Go types
// abi.Pack expects for the inputs of method.
func CoerceArgs(method abi.Method, args []interface{}) ([]interface{}, error) {
	if len(args) != len(method.Inputs) {
		return nil, fmt.Errorf("function %q expects %d arguments, got %d", method.Name, len(method.Inputs), len(args))
	}
	out := make([]interface{}, len(args))
	for i, input := range method.Inputs {
		v, err := coerceValue(input.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s) of %q: %w", i, input.Name, method.Name, err)
		}
		out[i] = v.Interface()
	}
	return out, nil
}

func coerceValue(t abi.Type, value interface{}) (reflect.Value, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := value.(string)
		if !ok || !gethcommon.IsHexAddress(s) {
			return reflect.Value{}, fmt.Errorf("invalid address: %v", value)
		}
		return reflect.ValueOf(gethcommon.HexToAddress(s)), nil
	case abi.BoolTy:
		switch b := value.(type) {
		case bool:
			return reflect.ValueOf(b), nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(parsed), nil
		}
		return reflect.Value{}, fmt.Errorf("invalid bool: %v", value)
	case abi.StringTy:
		s, ok := value.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("invalid string: %v", value)
		}
		return reflect.ValueOf(s), nil
	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(value)
		if err != nil {
			return reflect.Value{}, err
		}
		return bigIntToType(n, t)
	case abi.BytesTy:
		b, err := toBytes(value)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	case abi.FixedBytesTy:
		b, err := toBytes(value)
		if err != nil {
			return reflect.Value{}, err
		}
		if len(b) > t.Size {
			return reflect.Value{}, fmt.Errorf("bytes%d value is %d bytes long", t.Size, len(b))
		}
		out := reflect.New(t.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out, nil
	case abi.SliceTy, abi.ArrayTy:
		items, ok := value.([]interface{})
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected a list, got %T", value)
		}
		if t.T == abi.ArrayTy && len(items) != t.Size {
			return reflect.Value{}, fmt.Errorf("expected %d items, got %d", t.Size, len(items))
		}
		var out reflect.Value
		if t.T == abi.SliceTy {
			out = reflect.MakeSlice(t.GetType(), len(items), len(items))
		} else {
			out = reflect.New(t.GetType()).Elem()
		}
		for i, item := range items {
			v, err := coerceValue(*t.Elem, item)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			out.Index(i).Set(v)
		}
		return out, nil
	case abi.TupleTy:
		fields, ok := value.(map[string]interface{})
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected a map for tuple, got %T", value)
		}
		out := reflect.New(t.GetType()).Elem()
		for i, name := range t.TupleRawNames {
			raw, ok := fields[name]
			if !ok {
				return reflect.Value{}, fmt.Errorf("missing tuple field %q", name)
			}
			v, err := coerceValue(*t.TupleElems[i], raw)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("tuple field %q: %w", name, err)
			}
			out.Field(i).Set(v)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported abi type %s", t.String())
}

func toBigInt(value interface{}) (*big.Int, error) {
	switch n := value.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return nil, fmt.Errorf("not an integer: %v", n)
		}
		return big.NewInt(int64(n)), nil
	case *big.Int:
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s, base = s[2:], 16
		}
		out, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("invalid integer: %q", n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("invalid integer: %v", value)
}

func bigIntToType(n *big.Int, t abi.Type) (reflect.Value, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return reflect.Value{}, fmt.Errorf("negative value for uint%d", t.Size)
	}
	bits := n.BitLen()
	if t.T == abi.IntTy {
		bits++
	}
	if bits > t.Size {
		return reflect.Value{}, fmt.Errorf("value %s overflows %s", n.String(), t.String())
	}
	goType := t.GetType()
	if goType == reflect.TypeOf((*big.Int)(nil)) {
		return reflect.ValueOf(n), nil
	}
	out := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out, nil
}

func toBytes(value interface{}) ([]byte, error) {
	switch b := value.(type) {
	case []byte:
		return b, nil
	case string:
		return hexutil.Decode(b)
	}
	return nil, fmt.Errorf("invalid bytes: %v", value)
}
