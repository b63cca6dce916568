// Package retry implements the bounded exponential backoff executor
// described in spec.md §4.4, on top of github.com/avast/retry-go/v4.
package retry

import (
	"context"
	"math/rand"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/docingest/pipeline/internal/pipeline"
)

// Config holds the retry executor's tunables, per spec.md §4.4.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       float64 // random fraction of delay added, e.g. 0.1 = up to +10%
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       0.1,
	}
}

// Executor runs operations with bounded exponential backoff, classifying
// errors via pipeline.Retryable by default.
type Executor struct {
	cfg        Config
	classifier func(error) bool
}

// New creates an Executor. If classifier is nil, the default classification
// (pipeline.Retryable applied to pipeline.KindOf(err)) is used.
func New(cfg Config, classifier func(error) bool) *Executor {
	if classifier == nil {
		classifier = func(err error) bool {
			return pipeline.Retryable(pipeline.KindOf(err))
		}
	}
	return &Executor{cfg: cfg, classifier: classifier}
}

// Do runs op, retrying per the executor's configuration. An external
// cancellation (ctx.Done()) aborts both the operation and any intervening
// delay, per spec.md §4.4. No operation is attempted more than
// cfg.MaxAttempts times.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := e.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return retrygo.Do(
		func() error {
			return op(ctx)
		},
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.RetryIf(e.classifier),
		retrygo.DelayType(e.delayType()),
		retrygo.LastErrorOnly(true),
	)
}

// delayType implements exponential backoff with jitter, capped at
// cfg.MaxDelay, matching spec.md's multiplier/jitter/max_delay semantics
// rather than retry-go's built-in backoff (which lacks a hard max-delay
// cap combined with a configurable jitter fraction).
func (e *Executor) delayType() retrygo.DelayTypeFunc {
	return func(n uint, _ error, _ *retrygo.Config) time.Duration {
		delay := float64(e.cfg.InitialDelay)
		mult := e.cfg.Multiplier
		if mult <= 0 {
			mult = 2.0
		}
		for i := uint(0); i < n; i++ {
			delay *= mult
		}

		if e.cfg.Jitter > 0 {
			delay += delay * e.cfg.Jitter * rand.Float64()
		}

		d := time.Duration(delay)
		if e.cfg.MaxDelay > 0 && d > e.cfg.MaxDelay {
			d = e.cfg.MaxDelay
		}
		return d
	}
}
