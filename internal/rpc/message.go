// Package rpc is the message-passing boundary between the controller and the
// worker that owns the transaction pipeline.
//
// Every exchange is a Request carrying a correlation ID, one of a closed set
// of methods and JSON params, answered by a Response with the same ID and
// either a JSON result or a structured Error. Only serialized values cross
// the boundary.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Method names a worker operation.
type Method string

const (
	MethodSetNetwork        Method = "setNetwork"
	MethodLoadContract      Method = "loadContract"
	MethodCompile           Method = "compile"
	MethodInitInstance      Method = "initInstance"
	MethodBuild             Method = "build"
	MethodProve             Method = "prove"
	MethodExportTransaction Method = "exportTransaction"
	MethodReadState         Method = "readState"
	MethodFetchAccount      Method = "fetchAccount"
)

// Methods lists every method the worker serves.
var Methods = []Method{
	MethodSetNetwork,
	MethodLoadContract,
	MethodCompile,
	MethodInitInstance,
	MethodBuild,
	MethodProve,
	MethodExportTransaction,
	MethodReadState,
	MethodFetchAccount,
}

// Valid reports whether m belongs to the method set.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Request is the envelope sent to the worker.
type Request struct {
	ID     string          `json:"id"`
	Method Method          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope returned by the worker.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Code classifies a worker-side failure.
type Code string

const (
	CodePrecondition Code = "precondition"
	CodeLoad         Code = "load"
	CodeCompile      Code = "compile"
	CodeInvocation   Code = "invocation"
	CodeProving      Code = "proving"
	CodeNetwork      Code = "network"
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInternal     Code = "internal"
)

// Error is the structured error envelope. errors.Is matches any *Error
// with the same Code, so the sentinels below can be used as targets.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrPrecondition = &Error{Code: CodePrecondition}
	ErrLoad         = &Error{Code: CodeLoad}
	ErrCompile      = &Error{Code: CodeCompile}
	ErrInvocation   = &Error{Code: CodeInvocation}
	ErrProving      = &Error{Code: CodeProving}
	ErrNetwork      = &Error{Code: CodeNetwork}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrBadRequest   = &Error{Code: CodeBadRequest}
	ErrInternal     = &Error{Code: CodeInternal}
)

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewResult builds a successful response for req.
func NewResult(req *Request, result any) *Response {
	if result == nil {
		return &Response{ID: req.ID}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return NewError(req, Errorf(CodeInternal, "failed to encode result: %v", err))
	}
	return &Response{ID: req.ID, Result: b}
}

// NewError builds a failed response for req.
func NewError(req *Request, e *Error) *Response {
	return &Response{ID: req.ID, Error: e}
}
