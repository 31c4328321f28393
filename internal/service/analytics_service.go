package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/policy"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// AnalyticsService publishes aggregate case statistics. Every aggregate is
// checked for k-anonymity before it leaves the service; there is no bypass.
type AnalyticsService struct {
	cases      repository.CaseRepository
	policy     *policy.Engine
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAnalyticsService constructs the service.
func NewAnalyticsService(cases repository.CaseRepository, engine *policy.Engine, dispatcher events.Dispatcher, logger *zap.Logger) *AnalyticsService {
	if engine == nil {
		engine = policy.NewEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{cases: cases, policy: engine, dispatcher: dispatcher, logger: logger.Named("analytics")}
}

// CaseCounts returns case counts grouped by status or severity.
func (s *AnalyticsService) CaseCounts(ctx context.Context, groupBy string) (map[string]int, error) {
	counts, err := s.cases.CountBy(ctx, groupBy)
	if err != nil {
		if errors.Is(err, repository.ErrUnsupportedGrouping) {
			return nil, apperrors.NewValidationError("unsupported group_by", map[string]any{
				"group_by": groupBy,
				"allowed":  []string{repository.GroupByStatus, repository.GroupBySeverity},
			})
		}
		return nil, err
	}

	if err := s.policy.EnsureKAnonGroups(counts); err != nil {
		s.logger.Warn("aggregate withheld", zap.String("group_by", groupBy), zap.Error(err))
		return nil, apperrors.NewPolicyViolation(err, map[string]any{"k": s.policy.K(), "group_by": groupBy})
	}

	if s.dispatcher != nil {
		s.dispatcher.Publish(ctx, events.Event{
			Type:   events.EventAnalytics,
			Source: events.SourceAnalytics,
			Payload: events.AnalyticsPayload{
				Metric:  "case_count",
				GroupBy: groupBy,
				Counts:  counts,
			},
		})
	}
	return counts, nil
}
