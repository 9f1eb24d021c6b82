// Package worker serves the transaction pipeline over the rpc boundary and
// provides the typed client the controller uses to drive it.
package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"zkapp/internal/contract"
	"zkapp/internal/network"
	"zkapp/internal/pipeline"
	"zkapp/internal/rpc"
)

// SetNetworkParams selects the chain endpoint.
type SetNetworkParams struct {
	Endpoint string `json:"endpoint"`
}

// AddressParams carries a base58 address.
type AddressParams struct {
	Address string `json:"address"`
}

// CompileResult reports how many compilations the pipeline has run.
type CompileResult struct {
	CompileCount int `json:"compileCount"`
}

// ExportResult carries the JSON transaction.
type ExportResult struct {
	Transaction string `json:"transaction"`
}

// StateResult carries the decoded contract state as JSON.
type StateResult struct {
	State string `json:"state"`
}

// AccountResult is the answer to fetchAccount. A missing account or an
// unreachable node is reported here rather than as an rpc error so the
// caller can keep polling.
type AccountResult struct {
	Exists    bool             `json:"exists"`
	Account   *network.Account `json:"account,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode rpc.Code         `json:"errorCode,omitempty"`
}

// Service dispatches rpc requests to a pipeline.
type Service struct {
	pipeline *pipeline.Pipeline
	logger   zerolog.Logger
}

// NewService wraps p.
func NewService(p *pipeline.Pipeline, logger zerolog.Logger) *Service {
	return &Service{pipeline: p, logger: logger.With().Str("component", "worker").Logger()}
}

// Pipeline returns the served pipeline.
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Handle implements rpc.Handler.
func (s *Service) Handle(ctx context.Context, req *rpc.Request) *rpc.Response {
	s.logger.Debug().Str("id", req.ID).Str("method", string(req.Method)).Msg("handling request")

	switch req.Method {
	case rpc.MethodSetNetwork:
		var p SetNetworkParams
		if e := decode(req, &p); e != nil {
			return rpc.NewError(req, e)
		}
		return s.reply(req, nil, s.pipeline.SetActiveNetwork(p.Endpoint))

	case rpc.MethodLoadContract:
		return s.reply(req, nil, s.pipeline.LoadContract())

	case rpc.MethodCompile:
		err := s.pipeline.Compile(ctx)
		return s.reply(req, CompileResult{CompileCount: s.pipeline.CompileCount()}, err)

	case rpc.MethodInitInstance:
		var p AddressParams
		if e := decode(req, &p); e != nil {
			return rpc.NewError(req, e)
		}
		return s.reply(req, nil, s.pipeline.InitInstance(p.Address))

	case rpc.MethodBuild:
		var inv pipeline.Invocation
		if e := decode(req, &inv); e != nil {
			return rpc.NewError(req, e)
		}
		return s.reply(req, nil, s.pipeline.Build(ctx, inv))

	case rpc.MethodProve:
		return s.reply(req, nil, s.pipeline.Prove(ctx))

	case rpc.MethodExportTransaction:
		tx, err := s.pipeline.ExportTransaction()
		return s.reply(req, ExportResult{Transaction: tx}, err)

	case rpc.MethodReadState:
		state, err := s.pipeline.ReadContractState(ctx)
		return s.reply(req, StateResult{State: state}, err)

	case rpc.MethodFetchAccount:
		var p AddressParams
		if e := decode(req, &p); e != nil {
			return rpc.NewError(req, e)
		}
		return s.fetchAccount(ctx, req, p.Address)

	default:
		s.logger.Warn().Str("method", string(req.Method)).Msg("received unknown method")
		return rpc.NewError(req, rpc.Errorf(rpc.CodeBadRequest, "unknown method %q", req.Method))
	}
}

func (s *Service) fetchAccount(ctx context.Context, req *rpc.Request, address string) *rpc.Response {
	acct, err := s.pipeline.FetchAccount(ctx, address)
	if err == nil {
		return rpc.NewResult(req, AccountResult{Exists: true, Account: acct})
	}
	switch code := CodeOf(err); code {
	case rpc.CodeNotFound, rpc.CodeNetwork:
		return rpc.NewResult(req, AccountResult{Error: err.Error(), ErrorCode: code})
	default:
		return s.reply(req, nil, err)
	}
}

func (s *Service) reply(req *rpc.Request, result any, err error) *rpc.Response {
	if err != nil {
		code := CodeOf(err)
		s.logger.Warn().Err(err).Str("method", string(req.Method)).Str("code", string(code)).Msg("request failed")
		return rpc.NewError(req, &rpc.Error{Code: code, Message: err.Error()})
	}
	return rpc.NewResult(req, result)
}

func decode(req *rpc.Request, v any) *rpc.Error {
	if len(req.Params) == 0 {
		return rpc.Errorf(rpc.CodeBadRequest, "%s: missing params", req.Method)
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return rpc.Errorf(rpc.CodeBadRequest, "%s: invalid params: %v", req.Method, err)
	}
	return nil
}

// CodeOf classifies a pipeline or network error. Anything it does not
// recognise is internal.
func CodeOf(err error) rpc.Code {
	var (
		pre  *pipeline.PreconditionError
		load *pipeline.LoadError
		comp *pipeline.CompileError
		inv  *pipeline.InvocationError
		prv  *pipeline.ProvingError
	)
	switch {
	case errors.As(err, &pre):
		return rpc.CodePrecondition
	case errors.As(err, &load):
		return rpc.CodeLoad
	case errors.As(err, &comp), errors.Is(err, pipeline.ErrCompileFailed):
		return rpc.CodeCompile
	case errors.As(err, &inv):
		return rpc.CodeInvocation
	case errors.As(err, &prv):
		return rpc.CodeProving
	case errors.Is(err, network.ErrAccountNotFound):
		return rpc.CodeNotFound
	case errors.Is(err, contract.ErrInvalidAddress),
		errors.Is(err, network.ErrBadRequest),
		errors.Is(err, pipeline.ErrNetworkAlreadySet):
		return rpc.CodeBadRequest
	case errors.Is(err, network.ErrUnreachable):
		return rpc.CodeNetwork
	default:
		return rpc.CodeInternal
	}
}
