package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"swapscope/internal/model"
	"swapscope/internal/utxo"
)

// ErrChainData marks failures of an upstream chain-data backend. Callers
// treat it as fatal for the block being processed.
var ErrChainData = errors.New("chain data error")

// Provider resolves historical transaction outputs and maps times to
// chain points.
//
// ResolveInputs must return outputs positionally aligned with the order
// of refs; outputs that cannot be resolved are omitted from the result.
type Provider interface {
	ResolveInputs(ctx context.Context, refs []model.UtxoRef) ([]model.Utxo, error)
	FindBlockNearest(ctx context.Context, slot uint64) (model.BlockPoint, error)
}

// Backend selects a chain-data provider implementation.
type Backend string

const (
	BackendHybrid     Backend = "hybrid"
	BackendBlockfrost Backend = "blockfrost"
	BackendKoios      Backend = "koios"
	BackendDBMirror   Backend = "dbmirror"
)

// RetryPolicy bounds upstream request retries. Zero values keep the
// backoff defaults.
type RetryPolicy struct {
	MaxTries       int
	InitialBackoff time.Duration
}

// options expands the policy into retry options bounded by maxElapsed.
func (p RetryPolicy) options(maxElapsed time.Duration) []backoff.RetryOption {
	expo := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		expo.InitialInterval = p.InitialBackoff
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(expo),
		backoff.WithMaxElapsedTime(maxElapsed),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxTries)))
	}
	return opts
}

// Options carries everything the factory needs to build a provider.
type Options struct {
	Backend        Backend
	HybridFallback Backend
	BlockfrostURL  string
	BlockfrostKey  string
	KoiosURL       string
	MirrorDSN      string
	RequestTimeout time.Duration
	Retry          RetryPolicy
	Cache          *utxo.Cache
	Logger         *zap.Logger
}

// New maps a backend selection to a constructor.
func New(ctx context.Context, opts Options) (Provider, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	switch opts.Backend {
	case BackendBlockfrost:
		return NewBlockfrost(opts.BlockfrostURL, opts.BlockfrostKey, opts.RequestTimeout, opts.Retry, opts.Logger)
	case BackendKoios:
		return NewKoios(opts.KoiosURL, opts.RequestTimeout, opts.Retry, opts.Logger)
	case BackendDBMirror:
		return NewDBMirror(ctx, opts.MirrorDSN, opts.Logger)
	case BackendHybrid:
		if opts.Cache == nil {
			return nil, fmt.Errorf("hybrid backend requires a utxo cache")
		}
		fallbackOpts := opts
		fallbackOpts.Backend = opts.HybridFallback
		if fallbackOpts.Backend == BackendHybrid || fallbackOpts.Backend == "" {
			return nil, fmt.Errorf("invalid hybrid fallback: %q", opts.HybridFallback)
		}
		fallback, err := New(ctx, fallbackOpts)
		if err != nil {
			return nil, fmt.Errorf("build hybrid fallback: %w", err)
		}
		return NewHybrid(opts.Cache, fallback, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown chain data backend: %q", opts.Backend)
	}
}
