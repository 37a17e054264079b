package database

import "gorm.io/gorm"

// FacadeInterface defines the Facade interface for unit testing and mocking
type FacadeInterface interface {
	// GetExecution returns the Execution Facade interface
	GetExecution() ExecutionFacadeInterface
	// GetExecutionJob returns the ExecutionJob Facade interface
	GetExecutionJob() ExecutionJobFacadeInterface
	// GetQueueTicket returns the QueueTicket Facade interface
	GetQueueTicket() QueueTicketFacadeInterface
	// GetUsageRecord returns the UsageRecord Facade interface
	GetUsageRecord() UsageRecordFacadeInterface
	// WithDB returns a new Facade instance bound to the given connection
	WithDB(db *gorm.DB) FacadeInterface
}

// Facade is the unified entry point for database operations, aggregating all sub-Facades
type Facade struct {
	Execution    ExecutionFacadeInterface
	ExecutionJob ExecutionJobFacadeInterface
	QueueTicket  QueueTicketFacadeInterface
	UsageRecord  UsageRecordFacadeInterface
}

// NewFacade creates a new Facade instance
func NewFacade() *Facade {
	return &Facade{
		Execution:    NewExecutionFacade(),
		ExecutionJob: NewExecutionJobFacade(),
		QueueTicket:  NewQueueTicketFacade(),
		UsageRecord:  NewUsageRecordFacade(),
	}
}

// GetExecution returns the Execution Facade interface
func (f *Facade) GetExecution() ExecutionFacadeInterface {
	return f.Execution
}

// GetExecutionJob returns the ExecutionJob Facade interface
func (f *Facade) GetExecutionJob() ExecutionJobFacadeInterface {
	return f.ExecutionJob
}

// GetQueueTicket returns the QueueTicket Facade interface
func (f *Facade) GetQueueTicket() QueueTicketFacadeInterface {
	return f.QueueTicket
}

// GetUsageRecord returns the UsageRecord Facade interface
func (f *Facade) GetUsageRecord() UsageRecordFacadeInterface {
	return f.UsageRecord
}

// WithDB returns a new Facade instance, all sub-Facades bound to the given connection
func (f *Facade) WithDB(db *gorm.DB) FacadeInterface {
	return &Facade{
		Execution:    f.Execution.WithDB(db),
		ExecutionJob: f.ExecutionJob.WithDB(db),
		QueueTicket:  f.QueueTicket.WithDB(db),
		UsageRecord:  f.UsageRecord.WithDB(db),
	}
}

// Global default Facade instance
var defaultFacade = NewFacade()

// GetFacade returns the default Facade instance
func GetFacade() FacadeInterface {
	return defaultFacade
}
