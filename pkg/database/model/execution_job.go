package model

import (
	"encoding/json"
	"time"
)

const TableNameExecutionJob = "execution_jobs"

// Job status values.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Waiting strategies for jobs parked on an external provider.
const (
	WaitingStrategySync    = "sync"
	WaitingStrategyWebhook = "webhook"
	WaitingStrategyPolling = "polling"
	WaitingStrategyNone    = "none"
)

// DependencyFailedError is the error written to jobs failed by an
// upstream failure rather than their own operation.
const DependencyFailedError = "Dependency job failed"

var jobTransitions = map[string][]string{
	JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
}

// CanTransitionJob reports whether a job status change is legal.
// Terminal states never transition; processing never returns to pending.
func CanTransitionJob(from, to string) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ExecutionJob mapped from table <execution_jobs>; one vertex of the
// workflow graph.
type ExecutionJob struct {
	ID                 string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	ExecutionID        string          `gorm:"column:execution_id;not null;size:64;uniqueIndex:uidx_execution_job" json:"execution_id"`
	JobID              string          `gorm:"column:job_id;not null;size:128;uniqueIndex:uidx_execution_job" json:"job_id"`
	Operation          string          `gorm:"column:operation;not null;size:64" json:"operation"`
	Params             json.RawMessage `gorm:"column:params;type:jsonb;default:'{}'" json:"params"`
	Dependencies       StringList      `gorm:"column:dependencies;type:jsonb;default:'[]'" json:"dependencies"`
	Result             json.RawMessage `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error              string          `gorm:"column:error;size:4096" json:"error,omitempty"`
	Status             string          `gorm:"column:status;not null;size:32;default:'pending'" json:"status"`
	ProviderJobID      string          `gorm:"column:provider_job_id;size:256" json:"provider_job_id,omitempty"`
	ModelID            string          `gorm:"column:model_id;size:128" json:"model_id,omitempty"`
	WaitingStrategy    string          `gorm:"column:waiting_strategy;size:32" json:"waiting_strategy,omitempty"`
	NextPollAt         *time.Time      `gorm:"column:next_poll_at;index" json:"next_poll_at,omitempty"`
	Progress           ExtType         `gorm:"column:progress;type:jsonb;default:'{}'" json:"progress,omitempty"`
	Attempts           int             `gorm:"column:attempts;default:0" json:"attempts"`
	ActionLogged       bool            `gorm:"column:action_logged;default:false" json:"action_logged"`
	QueueTicketID      string          `gorm:"column:queue_ticket_id;size:64" json:"queue_ticket_id,omitempty"`
	WebhookDeliveredAt *time.Time      `gorm:"column:webhook_delivered_at" json:"webhook_delivered_at,omitempty"`
	CreatedAt          time.Time       `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	StartedAt          *time.Time      `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// TableName ExecutionJob's table name
func (*ExecutionJob) TableName() string {
	return TableNameExecutionJob
}

func (j *ExecutionJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// IsDependencyFailure reports whether this job failed because an
// upstream dependency failed, not because of its own operation.
func (j *ExecutionJob) IsDependencyFailure() bool {
	return j.Status == JobStatusFailed && j.Error == DependencyFailedError
}
