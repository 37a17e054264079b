package model

import "time"

const TableNameUsageRecord = "usage_records"

// UsageRecord mapped from table <usage_records>; one row per completed
// job, written at most once per job.
type UsageRecord struct {
	ID             string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	ExecutionID    string    `gorm:"column:execution_id;not null;size:64;index" json:"execution_id"`
	JobRecordID    string    `gorm:"column:job_record_id;not null;size:64;uniqueIndex" json:"job_record_id"`
	JobID          string    `gorm:"column:job_id;not null;size:128" json:"job_id"`
	Operation      string    `gorm:"column:operation;not null;size:64" json:"operation"`
	Provider       string    `gorm:"column:provider;size:64" json:"provider,omitempty"`
	ModelID        string    `gorm:"column:model_id;size:128" json:"model_id,omitempty"`
	OrganizationID string    `gorm:"column:organization_id;size:64" json:"organization_id,omitempty"`
	APIKeyID       string    `gorm:"column:api_key_id;size:64" json:"api_key_id,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
}

// TableName UsageRecord's table name
func (*UsageRecord) TableName() string {
	return TableNameUsageRecord
}
