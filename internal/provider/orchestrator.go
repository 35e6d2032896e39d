package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reelforge/internal/apperr"
	"reelforge/internal/metrics"
)

const defaultMaxPollErrors = 5

// Orchestrator tries candidates in order and waits for remote completion.
type Orchestrator struct {
	logger        *zap.Logger
	maxPollErrors int
}

func NewOrchestrator(logger *zap.Logger) *Orchestrator {
	return &Orchestrator{logger: logger.Named("providers"), maxPollErrors: defaultMaxPollErrors}
}

// Attempt submits to each candidate in order and returns the first accepted
// submission. A validation error stops the chain immediately since the input
// would be rejected everywhere; any other failure moves on to the next
// candidate. When every candidate fails the last error is wrapped.
func (o *Orchestrator) Attempt(ctx context.Context, candidates []Adapter, p Params) (*Submission, error) {
	if len(candidates) == 0 {
		return nil, apperr.Validation("no provider candidates")
	}

	var lastErr error
	for _, a := range candidates {
		externalID, err := a.Submit(ctx, p)
		if err == nil {
			metrics.ProviderSubmissions.WithLabelValues(a.Name(), "accepted").Inc()
			o.logger.Info("Provider accepted request",
				zap.String("provider", a.Name()), zap.String("external_id", externalID))
			return &Submission{Provider: a.Name(), ExternalID: externalID}, nil
		}

		if apperr.Is(err, apperr.KindValidation) {
			metrics.ProviderSubmissions.WithLabelValues(a.Name(), "rejected").Inc()
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.Provider(a.Name(), ctxErr)
		}

		metrics.ProviderSubmissions.WithLabelValues(a.Name(), "failed").Inc()
		o.logger.Warn("Provider submission failed, trying next",
			zap.String("provider", a.Name()), zap.Error(err))
		lastErr = err
	}

	return nil, &apperr.Error{
		Kind:     apperr.KindProvider,
		Message:  "all providers failed",
		Provider: candidates[len(candidates)-1].Name(),
		Err:      lastErr,
	}
}

// WaitForCompletion polls the adapter at a fixed interval until it reports
// success or error, or the timeout elapses. Up to maxPollErrors consecutive
// poll failures are tolerated. The remote job is not cancelled on timeout.
func (o *Orchestrator) WaitForCompletion(ctx context.Context, a Adapter, externalID string, timeout, interval time.Duration) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollErrors := 0
	for {
		res, err := a.Poll(ctx, externalID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				break
			}
			pollErrors++
			o.logger.Warn("Provider poll failed",
				zap.String("provider", a.Name()), zap.String("external_id", externalID),
				zap.Int("consecutive", pollErrors), zap.Error(err))
			if pollErrors >= o.maxPollErrors {
				o.observe(a, start, "error")
				return nil, apperr.Provider(a.Name(), fmt.Errorf("poll %s: %w", externalID, err))
			}
		case res.Status == StatusSuccess:
			o.observe(a, start, "success")
			return res, nil
		case res.Status == StatusError:
			o.observe(a, start, "error")
			msg := res.Error
			if msg == "" {
				msg = "generation failed"
			}
			return nil, apperr.Provider(a.Name(), errors.New(msg))
		default:
			pollErrors = 0
		}

		select {
		case <-ctx.Done():
			o.observe(a, start, "timeout")
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, apperr.Timeout(a.Name(),
					fmt.Errorf("no result for %s after %s; the remote job may still be running", externalID, timeout))
			}
			return nil, apperr.Provider(a.Name(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) observe(a Adapter, start time.Time, outcome string) {
	metrics.ProviderWaits.WithLabelValues(a.Name(), outcome).Observe(time.Since(start).Seconds())
}
