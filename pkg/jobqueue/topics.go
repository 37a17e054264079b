package jobqueue

import (
	"encoding/json"

	"github.com/synthome-dev/synthome/pkg/plan"
)

// Internal topics. Job tickets use the job's operation name as topic.
const (
	TopicWebhookDelivery    = "webhook-delivery"
	TopicJobWebhookDelivery = "job-webhook-delivery"
)

// WebhookDeliveryMaxAttempts is the delivery budget for outbound
// webhook tickets, which get a larger budget than job tickets because
// the receiver is outside our control.
const WebhookDeliveryMaxAttempts = 5

// OperationTopics returns the topic list for job tickets, one per operation
func OperationTopics() []string {
	return plan.AllOperations()
}

// AllTopics returns every topic the queue carries
func AllTopics() []string {
	return append(OperationTopics(), TopicWebhookDelivery, TopicJobWebhookDelivery)
}

// IsValidTopic checks if a topic string is a known topic
func IsValidTopic(topic string) bool {
	if topic == TopicWebhookDelivery || topic == TopicJobWebhookDelivery {
		return true
	}
	return plan.IsValidOperation(topic)
}

// JobPayload is the body of a ticket on an operation topic. Params are
// already resolved, dependency results are pre-collected so the worker
// never reads sibling rows.
type JobPayload struct {
	ExecutionID  string                     `json:"executionId"`
	JobRecordID  string                     `json:"jobRecordId"`
	JobID        string                     `json:"jobId"`
	Operation    string                     `json:"operation"`
	Params       map[string]interface{}     `json:"params,omitempty"`
	Dependencies map[string]json.RawMessage `json:"dependencies,omitempty"`
}

// ParseJobPayload decodes a job ticket payload
func ParseJobPayload(data json.RawMessage) (*JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WebhookDeliveryPayload is the body of a ticket on the webhook topics.
// JobRecordID and JobID are set only for per-job deliveries.
type WebhookDeliveryPayload struct {
	ExecutionID string `json:"executionId"`
	JobRecordID string `json:"jobRecordId,omitempty"`
	JobID       string `json:"jobId,omitempty"`
}

// ParseWebhookDeliveryPayload decodes a webhook ticket payload
func ParseWebhookDeliveryPayload(data json.RawMessage) (*WebhookDeliveryPayload, error) {
	var p WebhookDeliveryPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
