// Package classifier wraps the external text-classification capability
// with bounded retries and a fail-closed default: when the capability cannot
// answer, the request is escalated to a human instead of being under-routed.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// CapabilityRequest is what the external classifier receives.
type CapabilityRequest struct {
	SessionID string
	Text      string
	Meta      map[string]string
}

// CapabilityResult is the raw verdict returned by the external classifier.
// RiskLevel is nil when the capability did not report one, which makes the
// verdict malformed. NextStep is optional.
type CapabilityResult struct {
	RiskLevel *int   `json:"risk_level"`
	Intent    string `json:"intent"`
	NextStep  string `json:"next_step,omitempty"`
}

// Level returns a risk level pointer for building results.
func Level(n int) *int {
	return &n
}

// Capability is the opaque external text-classification service.
type Capability interface {
	Classify(ctx context.Context, req CapabilityRequest) (CapabilityResult, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req CapabilityRequest) (CapabilityResult, error)

func (f CapabilityFunc) Classify(ctx context.Context, req CapabilityRequest) (CapabilityResult, error) {
	return f(ctx, req)
}

// Unavailable is used when no classifier is configured. Every call fails,
// which the adapter turns into human escalation.
type Unavailable struct{}

func (Unavailable) Classify(context.Context, CapabilityRequest) (CapabilityResult, error) {
	return CapabilityResult{}, ErrCapabilityUnavailable
}

// Adapter is the Risk Classifier adapter used by the router.
type Adapter struct {
	capability Capability
	policy     Policy
	logger     *zap.Logger
	retryOpts  []RetryOption
}

// NewAdapter constructs the adapter.
func NewAdapter(capability Capability, policy Policy, logger *zap.Logger, opts ...RetryOption) *Adapter {
	if capability == nil {
		capability = Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// An unconfigured capability will not recover between attempts.
	retryOpts := append([]RetryOption{WithRetryIf(func(err error) bool {
		return !errors.Is(err, ErrCapabilityUnavailable)
	})}, opts...)
	return &Adapter{
		capability: capability,
		policy:     policy,
		logger:     logger.Named("classifier"),
		retryOpts:  retryOpts,
	}
}

// Classify returns the risk verdict for text. The only error it returns is a
// validation error for empty text; capability failures become the
// fail-closed default with the cause in DiagnosticNotes.
func (a *Adapter) Classify(ctx context.Context, sessionID, text string, meta map[string]string) (domain.RiskClassification, error) {
	if strings.TrimSpace(text) == "" {
		return domain.RiskClassification{}, ValidationError(ErrEmptyText)
	}

	callCtx := ctx
	if a.policy.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.policy.Timeout)
		defer cancel()
	}

	req := CapabilityRequest{SessionID: sessionID, Text: text, Meta: meta}
	result, err := Retry(callCtx, a.policy, func(ctx context.Context) (domain.RiskClassification, error) {
		raw, err := a.capability.Classify(ctx, req)
		if err != nil {
			return domain.RiskClassification{}, err
		}
		return normalize(raw)
	}, a.retryOpts...)
	if err != nil {
		notes := failureNotes(err)
		a.logger.Warn("classifier failed closed",
			zap.String("session_id", sessionID),
			zap.String("cause", notes),
			zap.Error(err))
		return domain.FailClosed(notes), nil
	}
	return result, nil
}

// ValidationError wraps err as a client-facing validation failure.
func ValidationError(err error) error {
	return apperrors.Wrap(err, "VALIDATION_FAILED", err.Error(), http.StatusBadRequest, nil)
}

func normalize(raw CapabilityResult) (domain.RiskClassification, error) {
	if raw.RiskLevel == nil {
		return domain.RiskClassification{}, fmt.Errorf("%w: risk_level missing", ErrMalformedResult)
	}
	level := domain.RiskLevel(*raw.RiskLevel)
	if level < domain.RiskNone {
		return domain.RiskClassification{}, fmt.Errorf("%w: risk_level %d", ErrMalformedResult, *raw.RiskLevel)
	}
	var notes []string
	if level > domain.RiskImminent {
		notes = append(notes, fmt.Sprintf("risk_level %d clamped to 3", *raw.RiskLevel))
		level = domain.RiskImminent
	}

	step := domain.NextStep(strings.ToLower(strings.TrimSpace(raw.NextStep)))
	switch {
	case step == "":
		step = stepForRisk(level)
	case !step.Valid():
		notes = append(notes, fmt.Sprintf("unknown next_step %q escalated to human", raw.NextStep))
		step = domain.NextStepHuman
	}

	intent := strings.TrimSpace(raw.Intent)
	if intent == "" {
		intent = "unspecified"
	}

	return domain.RiskClassification{
		RiskLevel:       level,
		Intent:          intent,
		NextStep:        step,
		Handoff:         step == domain.NextStepHuman,
		DiagnosticNotes: strings.Join(notes, "; "),
	}, nil
}

// stepForRisk picks the route when the capability reports only a risk level.
func stepForRisk(level domain.RiskLevel) domain.NextStep {
	switch {
	case level <= domain.RiskNone:
		return domain.NextStepResource
	case level == domain.RiskLow:
		return domain.NextStepCoach
	default:
		return domain.NextStepHuman
	}
}

func failureNotes(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "classifier timeout: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "classifier call cancelled: " + err.Error()
	case errors.Is(err, ErrCapabilityUnavailable):
		return "classifier unavailable: " + err.Error()
	default:
		return "classifier error: " + err.Error()
	}
}
