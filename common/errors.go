package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

//
// Base Types
//

type ErrorCode string

type BaseError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Cause   error                  `json:"cause"`
	Details map[string]interface{} `json:"details"`
}

type StandardError interface {
	error
	HasCode(codes ...ErrorCode) bool
	CodeChain() string
	Base() *BaseError
}

func (e *BaseError) Unwrap() error {
	return e.Cause
}

func (e *BaseError) Error() string {
	var detailsStr string
	if len(e.Details) > 0 {
		parts := make([]string, 0, len(e.Details))
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		detailsStr = " (" + strings.Join(parts, " ") + ")"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s%s", e.Code, e.Message, detailsStr)
	}
	return fmt.Sprintf("%s: %s%s -> %s", e.Code, e.Message, detailsStr, e.Cause.Error())
}

func (e *BaseError) Base() *BaseError {
	return e
}

func (e *BaseError) CodeChain() string {
	if e.Cause != nil {
		var se StandardError
		if errors.As(e.Cause, &se) {
			return fmt.Sprintf("%s <- %s", e.Code, se.CodeChain())
		}
	}

	return string(e.Code)
}

func (e *BaseError) HasCode(codes ...ErrorCode) bool {
	for _, code := range codes {
		if e.Code == code {
			return true
		}
	}

	if e.Cause != nil {
		var se StandardError
		if errors.As(e.Cause, &se) {
			return se.HasCode(codes...)
		}
	}

	return false
}

func (e *BaseError) MarshalZerologObject(evt *zerolog.Event) {
	evt.Str("code", string(e.Code)).Str("message", e.Message)
	if e.Cause != nil {
		evt.AnErr("cause", e.Cause)
	}
	if len(e.Details) > 0 {
		evt.Interface("details", e.Details)
	}
}

// HasErrorCode walks the error chain and reports whether any StandardError in it carries one of the codes.
func HasErrorCode(err error, codes ...ErrorCode) bool {
	if err == nil {
		return false
	}
	var se StandardError
	if errors.As(err, &se) {
		return se.HasCode(codes...)
	}
	return false
}

//
// Configuration
//

const ErrCodeInvalidConfig ErrorCode = "ErrInvalidConfig"

type ErrInvalidConfig struct{ BaseError }

var NewErrInvalidConfig = func(message string) error {
	return &ErrInvalidConfig{
		BaseError{
			Code:    ErrCodeInvalidConfig,
			Message: message,
		},
	}
}

const ErrCodeInvalidConnectorDriver ErrorCode = "ErrInvalidConnectorDriver"

type ErrInvalidConnectorDriver struct{ BaseError }

var NewErrInvalidConnectorDriver = func(driver string) error {
	return &ErrInvalidConnectorDriver{
		BaseError{
			Code:    ErrCodeInvalidConnectorDriver,
			Message: "invalid connector driver",
			Details: map[string]interface{}{
				"driver": driver,
			},
		},
	}
}

const ErrCodeRecordNotFound ErrorCode = "ErrRecordNotFound"

type ErrRecordNotFound struct{ BaseError }

var NewErrRecordNotFound = func(key string, driver string) error {
	return &ErrRecordNotFound{
		BaseError{
			Code:    ErrCodeRecordNotFound,
			Message: "record not found",
			Details: map[string]interface{}{
				"key":    key,
				"driver": driver,
			},
		},
	}
}

//
// Transport
//

const ErrCodeTransport ErrorCode = "ErrTransport"

type ErrTransport struct{ BaseError }

var NewErrTransport = func(endpoint string, cause error) error {
	return &ErrTransport{
		BaseError{
			Code:    ErrCodeTransport,
			Message: "contract read transport failed",
			Cause:   cause,
			Details: map[string]interface{}{
				"endpoint": endpoint,
			},
		},
	}
}

const ErrCodeJsonRpcException ErrorCode = "ErrJsonRpcException"

// ErrJsonRpcException is the error object returned by a remote JSON-RPC node.
type ErrJsonRpcException struct {
	BaseError
	RpcCode int64
	RpcData string
}

var NewErrJsonRpcException = func(rpcCode int64, message string, data string) error {
	return &ErrJsonRpcException{
		BaseError: BaseError{
			Code:    ErrCodeJsonRpcException,
			Message: message,
			Details: map[string]interface{}{
				"rpcCode": rpcCode,
			},
		},
		RpcCode: rpcCode,
		RpcData: data,
	}
}

// IsExecutionReverted reports whether a remote error represents an EVM revert rather than a node failure.
func (e *ErrJsonRpcException) IsExecutionReverted() bool {
	if e.RpcCode == 3 {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}

const ErrCodeChainClientNotFound ErrorCode = "ErrChainClientNotFound"

type ErrChainClientNotFound struct{ BaseError }

var NewErrChainClientNotFound = func(chainId int64) error {
	return &ErrChainClientNotFound{
		BaseError{
			Code:    ErrCodeChainClientNotFound,
			Message: "no rpc endpoint configured for chain",
			Details: map[string]interface{}{
				"chainId": chainId,
			},
		},
	}
}

const ErrCodeMulticall3Unavailable ErrorCode = "ErrMulticall3Unavailable"

type ErrMulticall3Unavailable struct{ BaseError }

var NewErrMulticall3Unavailable = func(chainId int64, cause error) error {
	return &ErrMulticall3Unavailable{
		BaseError{
			Code:    ErrCodeMulticall3Unavailable,
			Message: "multicall3 aggregation is not available on this chain",
			Cause:   cause,
			Details: map[string]interface{}{
				"chainId": chainId,
			},
		},
	}
}

//
// Contract calls
//

// Per-call failures are carried by evm.CallError with one of these codes.
const (
	ErrCodeCallReverted     ErrorCode = "ErrCallReverted"
	ErrCodeCallDecodeFailed ErrorCode = "ErrCallDecodeFailed"
	ErrCodeCallEncodeFailed ErrorCode = "ErrCallEncodeFailed"
)

//
// Query execution
//

const ErrCodeQueryCancelled ErrorCode = "ErrQueryCancelled"

type ErrQueryCancelled struct{ BaseError }

var NewErrQueryCancelled = func(queryHash string) error {
	return &ErrQueryCancelled{
		BaseError{
			Code:    ErrCodeQueryCancelled,
			Message: "query fetch was cancelled before it settled",
			Details: map[string]interface{}{
				"queryHash": queryHash,
			},
		},
	}
}
