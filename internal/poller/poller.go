// Package poller waits for an account to appear on chain by querying it at
// a constant interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"zkapp/internal/metrics"
	"zkapp/internal/network"
	"zkapp/internal/rpc"
	"zkapp/internal/worker"
)

// DefaultInterval is the wait between two queries.
const DefaultInterval = 5 * time.Second

var (
	errNotYet = errors.New("account does not exist yet")

	// ErrMaxAttempts is returned when the attempt bound is hit before the account appears.
	ErrMaxAttempts = errors.New("poller: account did not appear")
)

// AccountSource answers existence queries; *worker.Client implements it.
type AccountSource interface {
	FetchAccount(ctx context.Context, address string) (*worker.AccountResult, error)
}

// Config configures a Poller.
type Config struct {
	Interval time.Duration

	// MaxAttempts bounds the number of queries. Zero means unbounded.
	MaxAttempts int

	// OnAttempt, if set, is called before every query.
	OnAttempt func(attempt int)

	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// Poller runs the existence loop.
type Poller struct {
	source AccountSource
	cfg    Config
}

// New creates a poller over source.
func New(source AccountSource, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{source: source, cfg: cfg}
}

// WaitForAccount queries address until it exists, ctx is done, the attempt
// bound is hit or the query itself is rejected. It returns the account and
// the number of queries made.
//
// A missing account and an unreachable node are both retried; the latter is
// logged. Rejected queries (bad address, worker not ready) and internal
// worker errors stop the loop.
func (p *Poller) WaitForAccount(ctx context.Context, address string) (*network.Account, int, error) {
	logger := p.cfg.Logger.With().Str("address", address).Logger()
	attempts := 0

	op := func() (*network.Account, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		attempts++
		p.cfg.Metrics.RecordPollAttempt()
		if p.cfg.OnAttempt != nil {
			p.cfg.OnAttempt(attempts)
		}

		res, err := p.source.FetchAccount(ctx, address)
		if err != nil {
			if errors.Is(err, rpc.ErrBadRequest) || errors.Is(err, rpc.ErrPrecondition) || errors.Is(err, rpc.ErrInternal) {
				return nil, backoff.Permanent(err)
			}
			logger.Warn().Err(err).Int("attempt", attempts).Msg("account query failed, retrying")
			return nil, err
		}
		if res.Exists {
			return res.Account, nil
		}
		if res.ErrorCode == rpc.CodeNetwork {
			logger.Warn().Str("error", res.Error).Int("attempt", attempts).Msg("node unreachable, retrying")
		}
		return nil, errNotYet
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.cfg.Interval)
	if p.cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	notify := func(err error, wait time.Duration) {
		logger.Debug().Err(err).Dur("next", wait).Msg("account not ready")
	}

	acct, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		if errors.Is(err, errNotYet) {
			err = fmt.Errorf("%w after %d attempts", ErrMaxAttempts, attempts)
		}
		return nil, attempts, err
	}
	logger.Info().Int("attempts", attempts).Msg("account found")
	return acct, attempts, nil
}
