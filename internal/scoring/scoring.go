// Package scoring resolves a family and version selector to a concrete
// artifact set, validates the payload against it and returns a prediction
// together with the version that produced it.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/legacy"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/metrics"
	"github.com/mcules/model-registry/internal/policy"
	"github.com/mcules/model-registry/internal/predict"
	"github.com/mcules/model-registry/internal/registry"
)

const DefaultTimeout = 2 * time.Second

// PolicySource supplies per-family overrides. *policy.Store implements it.
type PolicySource interface {
	GetPolicy(ctx context.Context, family string) (policy.FamilyPolicy, bool, error)
}

type Result struct {
	Label int
	// Probability is nil when the model only classifies.
	Probability *float64
	// Version is the concrete version that produced the answer, or
	// legacy.Version for the pre-registry fallback. Never "current".
	Version   string
	Family    string
	RequestID string
}

type Service struct {
	Store *registry.Store
	// Legacy is consulted once when the versioned artifact is missing.
	// Nil disables the fallback.
	Legacy   *legacy.Resolver
	Policies PolicySource

	Threshold          float64
	Timeout            time.Duration
	DefaultConstraints features.Constraints

	Latency    *metrics.LatencyTracker
	Collectors *metrics.Collectors
	Activity   *activity.Log
	Log        logr.Logger
}

func New(store *registry.Store) *Service {
	return &Service{
		Store:              store,
		Threshold:          predict.DefaultThreshold,
		Timeout:            DefaultTimeout,
		DefaultConstraints: features.DefaultConstraints,
		Log:                logr.Discard(),
	}
}

// Validate checks payload against constraints without scoring it.
func Validate(payload features.Payload, constraints features.Constraints) []features.Violation {
	return features.Validate(payload, constraints)
}

// IsClientError reports whether err describes a fault in the caller's input.
func IsClientError(err error) bool {
	var missing *features.MissingFeatureError
	var invalid *features.InvalidFeatureTypeError
	var violation *features.ConstraintViolationError
	return errors.As(err, &missing) ||
		errors.As(err, &invalid) ||
		errors.As(err, &violation) ||
		errors.Is(err, registry.ErrInvalidName)
}

type outcome struct {
	res Result
	err error
}

// ScoreTransaction scores payload with the artifact set selected by family
// and selector. An empty selector means registry.Current.
func (s *Service) ScoreTransaction(ctx context.Context, family, selector string, payload features.Payload) (Result, error) {
	if selector == "" {
		selector = registry.Current
	}
	requestID, ok := logging.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	logger := s.logger(ctx).WithValues("requestID", requestID, "family", family, "selector", selector)
	ctx = logr.NewContext(ctx, logger)

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				cause := fmt.Errorf("panic while scoring: %v", p)
				logger.Error(cause, "Scoring panicked")
				done <- outcome{err: newError(ErrPredictionFailed, family, requestID, cause)}
			}
		}()
		res, err := s.score(ctx, logger, family, selector, requestID, payload)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Error(ctx.Err(), "Scoring exceeded its deadline", "elapsed", time.Since(start).String())
			out.err = newError(ErrTimeout, family, requestID, ctx.Err())
		} else {
			out.err = fmt.Errorf("scoring %q canceled: %w", family, ctx.Err())
		}
	}

	s.observe(family, out, time.Since(start))
	if out.err != nil {
		return Result{}, out.err
	}
	out.res.Family = family
	out.res.RequestID = requestID
	return out.res, nil
}

func (s *Service) score(ctx context.Context, logger logr.Logger, family, selector, requestID string, payload features.Payload) (Result, error) {
	pol := s.familyPolicy(ctx, logger, family)

	set, err := s.resolve(ctx, logger, family, selector, requestID, pol)
	if err != nil {
		return Result{}, err
	}

	order, isDefault := features.Order(set.Metadata.Features)
	if isDefault {
		logger.Info("No feature order declared, using default order", "version", set.Version, "features", order)
	}
	x, err := features.Vectorize(payload, order)
	if err != nil {
		return Result{}, err
	}
	if err := features.Check(payload, features.Effective(set.Metadata.Constraints, s.DefaultConstraints)); err != nil {
		return Result{}, err
	}

	threshold := s.Threshold
	if pol.Threshold > 0 {
		threshold = pol.Threshold
	}
	res, err := predict.New(threshold).PredictVector(set, x)
	if err != nil {
		logger.Error(err, "Prediction failed", "version", set.Version, "kind", set.Model.Kind())
		return Result{}, newError(ErrPredictionFailed, family, requestID, err)
	}

	logger.V(logging.DEBUG).Info("Scored", "version", set.Version, "label", res.Label, "threshold", threshold)
	return Result{Label: res.Label, Probability: res.Probability, Version: set.Version}, nil
}

// resolve maps the selector to a loaded artifact set, falling back to the
// legacy layout once when the versioned artifact is missing.
func (s *Service) resolve(ctx context.Context, logger logr.Logger, family, selector, requestID string, pol policy.FamilyPolicy) (*registry.ArtifactSet, error) {
	version, err := s.Store.ResolvePointer(family, selector)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrInvalidName):
		return nil, err
	case errors.Is(err, registry.ErrPointerNotFound) && s.Store.FamilyExists(family):
		return nil, newError(ErrVersionNotFound, family, requestID, err)
	case errors.Is(err, registry.ErrPointerNotFound):
		// Nothing was ever published for this family.
		return s.fallback(ctx, logger, family, requestID, pol,
			fmt.Errorf("%w: family %q has no versioned artifacts: %w", registry.ErrArtifactNotFound, family, err))
	case errors.Is(err, registry.ErrDanglingPointer):
		logger.Error(err, "Current pointer references a missing version")
		return nil, newError(ErrModelUnavailable, family, requestID, err)
	default:
		logger.Error(err, "Resolving version failed")
		return nil, newError(ErrModelUnavailable, family, requestID, err)
	}

	set, err := s.Store.Load(ctx, family, version)
	switch {
	case err == nil:
		return set, nil
	case errors.Is(err, registry.ErrInvalidName):
		return nil, err
	case errors.Is(err, registry.ErrArtifactNotFound):
		return s.fallback(ctx, logger, family, requestID, pol, err)
	default:
		logger.Error(err, "Loading artifact set failed", "version", version)
		return nil, newError(ErrModelUnavailable, family, requestID, err)
	}
}

func (s *Service) fallback(ctx context.Context, logger logr.Logger, family, requestID string, pol policy.FamilyPolicy, cause error) (*registry.ArtifactSet, error) {
	if s.Legacy == nil || pol.LegacyDisabled {
		logger.Error(cause, "Model unavailable, legacy fallback disabled")
		return nil, newError(ErrModelUnavailable, family, requestID, cause)
	}
	set, err := s.Store.Cache().GetOrLoadLegacy(family, func() (*registry.ArtifactSet, error) {
		return s.Legacy.Load(family)
	})
	if err != nil {
		logger.Error(errors.Join(cause, err), "Model unavailable after legacy fallback")
		return nil, newError(ErrModelUnavailable, family, requestID, cause)
	}
	logger.Info("Serving legacy model file", "reason", cause.Error())
	s.Collectors.ObserveFallback(family)
	s.Activity.Add(activity.Event{Type: activity.EventLegacyFallback, Family: family, Version: legacy.Version})
	return set, nil
}

// familyPolicy returns the family's overrides. Lookup failures are logged and the
// process defaults apply.
func (s *Service) familyPolicy(ctx context.Context, logger logr.Logger, family string) policy.FamilyPolicy {
	if s.Policies == nil {
		return policy.FamilyPolicy{}
	}
	p, found, err := s.Policies.GetPolicy(ctx, family)
	if err != nil {
		logger.Error(err, "Reading family policy failed, using defaults")
		return policy.FamilyPolicy{}
	}
	if !found {
		return policy.FamilyPolicy{}
	}
	return p
}

func (s *Service) observe(family string, out outcome, d time.Duration) {
	s.Latency.Observe(family, d, out.err)
	if out.err != nil {
		s.Collectors.ObserveError(family, errorType(out.err))
		return
	}
	s.Collectors.ObservePrediction(family, out.res.Version, d)
}

func (s *Service) logger(ctx context.Context) logr.Logger {
	if l, err := logr.FromContext(ctx); err == nil {
		return l
	}
	return s.Log
}
