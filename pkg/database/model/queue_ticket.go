package model

import (
	"encoding/json"
	"time"
)

const TableNameQueueTicket = "queue_tickets"

// Ticket lifecycle states
const (
	TicketStateCreated   = "created"
	TicketStateActive    = "active"
	TicketStateCompleted = "completed"
	TicketStateFailed    = "failed"
	TicketStateExpired   = "expired"
)

// QueueTicket mapped from table <queue_tickets>; one entry in the
// durable per-topic queue.
type QueueTicket struct {
	ID            string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	Topic         string          `gorm:"column:topic;not null;size:128;index:idx_ticket_topic_state" json:"topic"`
	State         string          `gorm:"column:state;not null;size:32;default:'created';index:idx_ticket_topic_state" json:"state"`
	Payload       json.RawMessage `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Attempts      int             `gorm:"column:attempts;default:0" json:"attempts"`
	MaxAttempts   int             `gorm:"column:max_attempts;default:3" json:"max_attempts"`
	WorkerID      string          `gorm:"column:worker_id;size:128" json:"worker_id,omitempty"`
	ErrorMessage  string          `gorm:"column:error_message;size:2048" json:"error_message,omitempty"`
	NextAttemptAt time.Time       `gorm:"column:next_attempt_at;not null;index" json:"next_attempt_at"`
	TimeoutAt     *time.Time      `gorm:"column:timeout_at;index" json:"timeout_at,omitempty"`
	ExpiresAt     time.Time       `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	StartedAt     *time.Time      `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// TableName QueueTicket's table name
func (*QueueTicket) TableName() string {
	return TableNameQueueTicket
}

// IsTerminal reports whether the ticket reached a final state
func (t *QueueTicket) IsTerminal() bool {
	return t.State == TicketStateCompleted || t.State == TicketStateFailed || t.State == TicketStateExpired
}
