// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors
var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrEmptyPayload   = errors.New("ticket payload is empty")
)

// TicketState represents the state of a queue ticket
type TicketState string

const (
	TicketStateCreated   TicketState = "created"
	TicketStateActive    TicketState = "active"
	TicketStateCompleted TicketState = "completed"
	TicketStateFailed    TicketState = "failed"
	TicketStateExpired   TicketState = "expired"
)

// Ticket represents one durable queue entry
type Ticket struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	State         TicketState     `json:"state"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	WorkerID      string          `json:"worker_id,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	TimeoutAt     *time.Time      `json:"timeout_at,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the ticket is in a terminal state
func (t *Ticket) IsTerminal() bool {
	return t.State == TicketStateCompleted ||
		t.State == TicketStateFailed ||
		t.State == TicketStateExpired
}

// Queue defines the interface for durable per-topic FIFO operations
type Queue interface {
	// Enqueue adds a new ticket to a topic with default options
	Enqueue(ctx context.Context, topic string, payload json.RawMessage) (ticketID string, err error)

	// EnqueueWithOptions adds a new ticket with options
	EnqueueWithOptions(ctx context.Context, opts *EnqueueOptions) (ticketID string, err error)

	// GetTicket retrieves a ticket by ID
	GetTicket(ctx context.Context, ticketID string) (*Ticket, error)

	// Claim pulls one deliverable ticket from the given topics. The
	// ticket stays invisible to other workers for the visibility
	// timeout and must be completed, failed, or released.
	Claim(ctx context.Context, topics []string, workerID string) (*Ticket, error)

	// Complete acknowledges a claimed ticket
	Complete(ctx context.Context, ticketID string) error

	// Fail records a handler failure. Reports whether the ticket will
	// be redelivered after backoff.
	Fail(ctx context.Context, ticketID string, errMsg string) (redeliver bool, err error)

	// Release returns a claimed ticket without consuming an attempt
	Release(ctx context.Context, ticketID string) error

	// ListTickets lists tickets with optional filters
	ListTickets(ctx context.Context, filter *TicketFilter) ([]*Ticket, error)

	// CountTickets counts tickets matching filter
	CountTickets(ctx context.Context, filter *TicketFilter) (int64, error)

	// HandleTimeouts requeues active tickets whose visibility window lapsed
	HandleTimeouts(ctx context.Context) (count int, err error)

	// ExpireStale archives tickets past their expiry bound
	ExpireStale(ctx context.Context) (count int, err error)

	// Cleanup removes old terminal tickets
	Cleanup(ctx context.Context, olderThan time.Duration) (count int, err error)
}

// EnqueueOptions contains options for enqueuing a ticket
type EnqueueOptions struct {
	Topic       string
	Payload     json.RawMessage
	MaxAttempts int
	ExpireAfter time.Duration
	Delay       time.Duration
}

// TicketFilter contains filters for listing tickets
type TicketFilter struct {
	State         *TicketState
	Topic         string
	Topics        []string
	WorkerID      string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// QueueConfig contains configuration for the ticket queue
type QueueConfig struct {
	// How long a claimed ticket stays invisible before redelivery
	VisibilityTimeout time.Duration `json:"visibility_timeout" yaml:"visibility_timeout"`

	// Default delivery attempt ceiling
	DefaultMaxAttempts int `json:"default_max_attempts" yaml:"default_max_attempts"`

	// Tickets not completed within this window are archived
	ExpireAfter time.Duration `json:"expire_after" yaml:"expire_after"`

	// Base delay before a failed ticket is redelivered, doubled per attempt
	RetryBackoffBase time.Duration `json:"retry_backoff_base" yaml:"retry_backoff_base"`

	// Cleanup settings
	RetentionPeriod time.Duration `json:"retention_period" yaml:"retention_period"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`

	// Timeout check interval
	TimeoutCheckInterval time.Duration `json:"timeout_check_interval" yaml:"timeout_check_interval"`
}

// DefaultQueueConfig returns default queue configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		VisibilityTimeout:    5 * time.Minute,
		DefaultMaxAttempts:   3,
		ExpireAfter:          24 * time.Hour,
		RetryBackoffBase:     30 * time.Second,
		RetentionPeriod:      7 * 24 * time.Hour,
		CleanupInterval:      1 * time.Hour,
		TimeoutCheckInterval: 1 * time.Minute,
	}
}
