package common

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

type JsonRpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type JsonRpcErrorObject struct {
	Code    int64       `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type JsonRpcResponse struct {
	JSONRPC string              `json:"jsonrpc,omitempty"`
	ID      interface{}         `json:"id"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *JsonRpcErrorObject `json:"error,omitempty"`
}

func NewJsonRpcRequest(id int64, method string, params []interface{}) *JsonRpcRequest {
	if params == nil {
		params = []interface{}{}
	}
	return &JsonRpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

func (r *JsonRpcRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Str("method", r.Method).Int64("id", r.ID)
}

func (r *JsonRpcResponse) MarshalZerologObject(e *zerolog.Event) {
	e.Interface("id", r.ID).Int("resultSize", len(r.Result))
	if r.Error != nil {
		e.Int64("errorCode", r.Error.Code).Str("errorMessage", r.Error.Message)
	}
}

// AsError converts the json-rpc error object into an ErrJsonRpcException, or nil when there is none.
func (r *JsonRpcResponse) AsError() error {
	if r.Error == nil {
		return nil
	}
	var data string
	switch d := r.Error.Data.(type) {
	case nil:
	case string:
		data = d
	default:
		data = fmt.Sprintf("%v", d)
	}
	return NewErrJsonRpcException(r.Error.Code, r.Error.Message, data)
}
