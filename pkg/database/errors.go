package database

import "errors"

var (
	// ErrExecutionNotFound is returned when an execution is not found
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrJobNotFound is returned when a job row is not found or a guarded
	// update matched no rows
	ErrJobNotFound = errors.New("job not found")

	// ErrTicketNotFound is returned when a ticket is not found or a guarded
	// update matched no rows
	ErrTicketNotFound = errors.New("ticket not found")
)
