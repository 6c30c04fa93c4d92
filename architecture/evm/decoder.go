package evm

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DecodeResults decodes raw results against the abi and function name of their calls.
// With allowFailure, failed or undecodable positions become CallError markers; otherwise the
// first such position fails the whole batch. Calls without abi or function name pass the raw
// return data through.
func DecodeResults(raw []RawResult, calls []CallDescriptor, allowFailure bool) ([]CallResult, error) {
	if len(raw) != len(calls) {
		return nil, fmt.Errorf("result count mismatch: got %d results for %d calls", len(raw), len(calls))
	}

	out := make([]CallResult, len(raw))
	for i, r := range raw {
		call := &calls[i]
		if !r.Success {
			var cerr *CallError
			if r.Error != nil {
				cerr = NewCallEncodeFailed(i, call.FunctionName, r.Error)
			} else {
				cerr = NewCallReverted(i, call.FunctionName, r.ReturnData, DecodeRevert(r.ReturnData, call.Abi), nil)
			}
			if !allowFailure {
				return nil, cerr
			}
			out[i] = CallResult{Status: CallStatusFailure, Error: cerr}
			continue
		}

		if call.Abi == nil || call.FunctionName == "" {
			out[i] = CallResult{Status: CallStatusSuccess, Result: r.ReturnData}
			continue
		}

		value, err := decodeOutput(call, r.ReturnData)
		if err != nil {
			cerr := NewCallDecodeFailed(i, call.FunctionName, r.ReturnData, err)
			if !allowFailure {
				return nil, cerr
			}
			out[i] = CallResult{Status: CallStatusFailure, Error: cerr}
			continue
		}
		out[i] = CallResult{Status: CallStatusSuccess, Result: value}
	}

	return out, nil
}

func decodeOutput(call *CallDescriptor, data []byte) (interface{}, error) {
	method, err := call.Method()
	if err != nil {
		return nil, err
	}
	if len(method.Outputs) > 0 && len(data) == 0 {
		return nil, fmt.Errorf("function %q returned no data, is %s a contract", call.FunctionName, call.Address.Hex())
	}
	values, err := method.Outputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	}
	return values, nil
}

// DecodeRevert returns a human readable reason for revert data: Error(string), Panic(uint256) or
// a custom error declared in contractAbi. It returns "" when nothing matches.
func DecodeRevert(data []byte, contractAbi *abi.ABI) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	if contractAbi == nil {
		return ""
	}
	for name, e := range contractAbi.Errors {
		if !bytes.Equal(e.ID[:4], data[:4]) {
			continue
		}
		args, err := e.Inputs.Unpack(data[4:])
		if err != nil {
			return name
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprintf("%v", a)
		}
		return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
	}
	return ""
}
