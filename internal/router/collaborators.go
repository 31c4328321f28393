package router

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// StaticCatalog is the built-in resource list. Crisis lines are always
// listed first for elevated risk.
type StaticCatalog struct {
	general []Resource
	crisis  []Resource
	topics  []topic
}

type topic struct {
	keyword string
	items   []Resource
}

// NewStaticCatalog returns the default catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		general: []Resource{
			{Title: "Grounding exercises", URL: "https://resources.example.org/grounding"},
			{Title: "Sleep and stress basics", URL: "https://resources.example.org/sleep-stress"},
		},
		crisis: []Resource{
			{Title: "988 Suicide & Crisis Lifeline", URL: "https://988lifeline.org"},
			{Title: "Find a helpline", URL: "https://findahelpline.com"},
		},
		topics: []topic{
			{"anxiety", []Resource{{Title: "Managing anxiety", URL: "https://resources.example.org/anxiety"}}},
			{"grief", []Resource{{Title: "Coping with loss", URL: "https://resources.example.org/grief"}}},
			{"relationship", []Resource{{Title: "Healthy relationships", URL: "https://resources.example.org/relationships"}}},
			{"substance", []Resource{{Title: "Substance use support", URL: "https://resources.example.org/substance"}}},
		},
	}
}

// Lookup never fails. The topic is matched against the intent tag.
func (c *StaticCatalog) Lookup(_ context.Context, intent string, level domain.RiskLevel) ([]Resource, error) {
	var out []Resource
	if level >= domain.RiskElevated {
		out = append(out, c.crisis...)
	}
	intent = strings.ToLower(intent)
	for _, t := range c.topics {
		if strings.Contains(intent, t.keyword) {
			out = append(out, t.items...)
		}
	}
	out = append(out, c.general...)
	return out, nil
}

// LoggingCoach records the handoff and returns a reference. The coaching
// flow itself lives outside this service.
type LoggingCoach struct {
	logger *zap.Logger
}

// NewLoggingCoach builds the collaborator.
func NewLoggingCoach(logger *zap.Logger) *LoggingCoach {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingCoach{logger: logger.Named("coach")}
}

func (c *LoggingCoach) Handoff(ctx context.Context, rc RouteContext, cls domain.RiskClassification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := uuid.NewString()
	fields := []zap.Field{
		zap.String("handoff_id", ref),
		zap.String("execution_id", rc.ExecutionID),
		zap.String("intent", cls.Intent),
	}
	if rc.Experiment != nil {
		fields = append(fields, zap.String("experiment", rc.Experiment.Name))
	}
	c.logger.Info("coach handoff", fields...)
	return ref, nil
}
