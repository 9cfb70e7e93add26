package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
)

// RuleInvalidator drops cached rule snapshots. *rbac.Authorizer satisfies it.
type RuleInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RulesRefreshJob forces every instance to reload the rule table after
// out-of-band edits such as seeding.
type RulesRefreshJob struct {
	Rules   RuleInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRulesRefreshJob wires the refresh handler.
func NewRulesRefreshJob(rules RuleInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *RulesRefreshJob {
	return &RulesRefreshJob{Rules: rules, Logger: logger, Metrics: metrics}
}

// Handle processes refresh tasks.
func (j *RulesRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Rules == nil {
		return errors.New("rules refresh: handler not configured")
	}
	var payload RulesRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskRulesRefresh)
	err := j.Rules.Invalidate(ctx)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err != nil {
		logger.Error("refresh rules", slog.String("job", TaskRulesRefresh), slog.Any("error", err))
	} else {
		logger.Info("rules refreshed", slog.String("job", TaskRulesRefresh), slog.String("reason", payload.Reason))
	}
	return tracker.End(err)
}
