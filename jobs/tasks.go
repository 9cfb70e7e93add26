package jobs

import (
	"encoding/json"
	"sort"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
)

const (
	// QueueSessions carries session housekeeping.
	QueueSessions = "iam_sessions"
	// QueueRules carries rule snapshot refreshes. It is weighted above
	// QueueSessions so stale permissions clear first.
	QueueRules = "iam_rules"

	// TaskSessionsPurgeExpired sweeps sessions whose expiry has passed.
	TaskSessionsPurgeExpired = "sessions:purge_expired"
	// TaskRulesRefresh bumps the shared rule snapshot version.
	TaskRulesRefresh = "rbac:rules_refresh"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// queueWeights is the worker's processing priority per queue.
var queueWeights = map[string]int{
	QueueRules:    3,
	QueueSessions: 1,
}

// Queues lists the queue names the worker serves, sorted.
func Queues() []string {
	names := make([]string, 0, len(queueWeights))
	for name := range queueWeights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PurgeSessionsPayload configures a purge run. A zero GraceSeconds purges
// everything already expired.
type PurgeSessionsPayload struct {
	GraceSeconds int `json:"grace_seconds"`
}

// RulesRefreshPayload records who requested a rule refresh.
type RulesRefreshPayload struct {
	Reason string `json:"reason"`
}

// NewPurgeSessionsTask constructs the expired-session sweep task.
func NewPurgeSessionsTask(payload PurgeSessionsPayload) (*asynq.Task, error) {
	if payload.GraceSeconds < 0 {
		payload.GraceSeconds = 0
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsPurgeExpired, data, asynq.Queue(QueueSessions)), nil
}

// NewRulesRefreshTask constructs the rule refresh task.
func NewRulesRefreshTask(reason string) (*asynq.Task, error) {
	if reason == "" {
		reason = "manual"
	}
	data, err := json.Marshal(RulesRefreshPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRulesRefresh, data, asynq.Queue(QueueRules)), nil
}
