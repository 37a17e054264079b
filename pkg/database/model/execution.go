package model

import (
	"encoding/json"
	"time"
)

const TableNameExecution = "executions"

// Execution status values.
const (
	ExecutionStatusPending    = "pending"
	ExecutionStatusProcessing = "processing"
	ExecutionStatusCompleted  = "completed"
	ExecutionStatusFailed     = "failed"
)

// Execution mapped from table <executions>
type Execution struct {
	ID                 string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	Status             string          `gorm:"column:status;not null;size:32;default:'pending'" json:"status"`
	Plan               json.RawMessage `gorm:"column:plan;type:jsonb;not null" json:"plan"`
	BaseExecutionID    string          `gorm:"column:base_execution_id;size:64" json:"base_execution_id,omitempty"`
	Webhook            string          `gorm:"column:webhook;size:2048" json:"webhook,omitempty"`
	WebhookSecret      string          `gorm:"column:webhook_secret;size:256" json:"-"`
	OrganizationID     string          `gorm:"column:organization_id;size:64" json:"organization_id,omitempty"`
	APIKeyID           string          `gorm:"column:api_key_id;size:64" json:"api_key_id,omitempty"`
	ProviderAPIKeys    ExtType         `gorm:"column:provider_api_keys;type:jsonb;default:'{}'" json:"-"`
	Result             json.RawMessage `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error              string          `gorm:"column:error;size:4096" json:"error,omitempty"`
	WebhookDeliveredAt *time.Time      `gorm:"column:webhook_delivered_at" json:"webhook_delivered_at,omitempty"`
	CreatedAt          time.Time       `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	CompletedAt        *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// TableName Execution's table name
func (*Execution) TableName() string {
	return TableNameExecution
}

func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}
