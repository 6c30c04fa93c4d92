package evm

import (
	"fmt"
	"strings"

	"github.com/erpc/contractreads/common"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// CallDescriptor is a single contract read. Abi is needed for encoding and decoding but is not
// part of the call identity.
type CallDescriptor struct {
	Address      gethcommon.Address
	FunctionName string
	Args         []interface{}
	// ChainId of zero means the current chain.
	ChainId int64
	Abi     *abi.ABI
}

// NormalizedCall is the identity of a CallDescriptor, as used in cache keys.
type NormalizedCall struct {
	Address      gethcommon.Address `json:"address"`
	Args         []interface{}      `json:"args"`
	ChainId      int64              `json:"chainId,omitempty"`
	FunctionName string             `json:"functionName"`
}

func (c *CallDescriptor) HasAddress() bool {
	return c.Address != (gethcommon.Address{})
}

// IsComplete reports whether the call carries everything needed to be sent.
func (c *CallDescriptor) IsComplete() bool {
	return c.Abi != nil && c.HasAddress() && c.FunctionName != ""
}

func (c *CallDescriptor) MarshalZerologObject(e *zerolog.Event) {
	e.Str("address", c.Address.Hex()).
		Str("functionName", c.FunctionName).
		Int("args", len(c.Args))
	if c.ChainId != 0 {
		e.Int64("chainId", c.ChainId)
	}
}

// Method resolves the ABI method by name.
func (c *CallDescriptor) Method() (abi.Method, error) {
	if c.Abi == nil {
		return abi.Method{}, fmt.Errorf("no abi for function %q", c.FunctionName)
	}
	m, ok := c.Abi.Methods[c.FunctionName]
	if !ok {
		return abi.Method{}, fmt.Errorf("function %q not found in abi", c.FunctionName)
	}
	return m, nil
}

// NormalizeCalls drops the abi of every call, keeping order.
func NormalizeCalls(calls []CallDescriptor) []NormalizedCall {
	out := make([]NormalizedCall, len(calls))
	for i, c := range calls {
		out[i] = NormalizedCall{
			Address:      c.Address,
			Args:         c.Args,
			ChainId:      c.ChainId,
			FunctionName: c.FunctionName,
		}
	}
	return out
}

// RawResult is what the chain returned for one call, aligned with the request.
type RawResult struct {
	Success    bool   `json:"success"`
	ReturnData []byte `json:"returnData"`
	// Error is set when the call could not even be sent, e.g. its arguments did not encode.
	Error error `json:"-"`
}

type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusFailure CallStatus = "failure"
)

// CallResult is one decoded position of a batch. Exactly one of Result and Error is set.
type CallResult struct {
	Status CallStatus  `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  *CallError  `json:"error,omitempty"`
}

func (r CallResult) IsSuccess() bool {
	return r.Status == CallStatusSuccess
}

type CallErrorKind string

const (
	CallErrorRevert CallErrorKind = "revert"
	CallErrorDecode CallErrorKind = "decode"
	CallErrorEncode CallErrorKind = "encode"
)

// CallError marks a position that failed without failing the batch.
type CallError struct {
	common.BaseError
	Kind         CallErrorKind `json:"kind"`
	Index        int           `json:"index"`
	FunctionName string        `json:"functionName"`
	// Reason is the decoded revert reason or panic description, if any.
	Reason     string `json:"reason,omitempty"`
	ReturnData []byte `json:"returnData,omitempty"`
}

func NewCallReverted(index int, functionName string, returnData []byte, reason string, cause error) *CallError {
	if reason == "" && cause != nil {
		reason = cause.Error()
	}
	return &CallError{
		BaseError: common.BaseError{
			Code:    common.ErrCodeCallReverted,
			Message: "contract call reverted",
			Cause:   cause,
			Details: map[string]interface{}{
				"index":        index,
				"functionName": functionName,
				"reason":       reason,
			},
		},
		Kind:         CallErrorRevert,
		Index:        index,
		FunctionName: functionName,
		Reason:       reason,
		ReturnData:   returnData,
	}
}

func NewCallDecodeFailed(index int, functionName string, returnData []byte, cause error) *CallError {
	return &CallError{
		BaseError: common.BaseError{
			Code:    common.ErrCodeCallDecodeFailed,
			Message: "failed to decode contract call result",
			Cause:   cause,
			Details: map[string]interface{}{
				"index":        index,
				"functionName": functionName,
			},
		},
		Kind:         CallErrorDecode,
		Index:        index,
		FunctionName: functionName,
		ReturnData:   returnData,
	}
}

func NewCallEncodeFailed(index int, functionName string, cause error) *CallError {
	return &CallError{
		BaseError: common.BaseError{
			Code:    common.ErrCodeCallEncodeFailed,
			Message: "failed to encode contract call",
			Cause:   cause,
			Details: map[string]interface{}{
				"index":        index,
				"functionName": functionName,
			},
		},
		Kind:         CallErrorEncode,
		Index:        index,
		FunctionName: functionName,
	}
}

func (e *CallError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s(%d) %s: %s", e.Code, e.FunctionName, e.Index, e.Kind, e.Reason)
	}
	return e.BaseError.Error()
}

// ParseBlockTag validates a named block tag.
func ParseBlockTag(tag string) (string, error) {
	switch t := strings.ToLower(tag); t {
	case "latest", "earliest", "pending", "safe", "finalized":
		return t, nil
	}
	return "", fmt.Errorf("invalid block tag: %q", tag)
}
