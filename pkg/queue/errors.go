package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrExecutorNil is returned when a worker is built without an executor
	ErrExecutorNil = errors.New("executor cannot be nil")

	// ErrClientNil is returned when a worker is built without a client
	ErrClientNil = errors.New("client cannot be nil")

	// ErrStoreUnavailable wraps any failure to reach the store
	ErrStoreUnavailable = errors.New("task store unavailable")

	// ErrEmptyQueueName is returned when a queue name is required but empty
	ErrEmptyQueueName = errors.New("queue name cannot be empty")

	// ErrEmptyTaskName is returned when a task name is required but empty
	ErrEmptyTaskName = errors.New("task name cannot be empty")

	// ErrEmptyWorkerID is returned when claim/heartbeat are called without a worker id
	ErrEmptyWorkerID = errors.New("worker id cannot be empty")

	// ErrReservedTaskName is returned when spawning a task under the dead-letter marker name
	ErrReservedTaskName = errors.New("task name is reserved for dead-letter markers")

	// ErrInvalidParams is returned when params are not valid JSON
	ErrInvalidParams = errors.New("task params must be valid JSON")

	// ErrInvalidMaxRetries is returned for negative retry limits
	ErrInvalidMaxRetries = errors.New("max retries cannot be negative")

	// ErrTaskNotFound is returned when a task id does not exist
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned when creating a task with a duplicate id
	ErrTaskExists = errors.New("task already exists")

	// ErrNoTaskToClaim is returned by repositories when nothing is eligible
	ErrNoTaskToClaim = errors.New("no task to claim")

	// ErrClaimLost is returned when complete/fail is called by a worker that no longer holds the claim
	ErrClaimLost = errors.New("task claim lost")

	// ErrHandlerNotFound is returned when no handler is registered for a task
	ErrHandlerNotFound = errors.New("no handler registered for task")

	// ErrHandlerAlreadyRegistered is returned on duplicate handler registration
	ErrHandlerAlreadyRegistered = errors.New("handler already registered")

	// ErrExecutorPanic wraps a recovered executor panic
	ErrExecutorPanic = errors.New("executor panicked")

	// ErrWorkerAlreadyStarted is returned by Start on a running worker
	ErrWorkerAlreadyStarted = errors.New("worker already started")

	// ErrWorkerNotStarted is returned by Stop on an idle worker
	ErrWorkerNotStarted = errors.New("worker not started")

	// ErrDeadLetterNotFound is returned when a dead-letter id does not exist
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")

	// ErrInvalidDeadLetterTransition is returned for operator actions not allowed from the current status
	ErrInvalidDeadLetterTransition = errors.New("invalid dead letter status transition")

	// ErrChainNotFound is returned when a chain name does not exist
	ErrChainNotFound = errors.New("chain not found")

	// ErrScheduleNotFound is returned when a schedule name does not exist
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInvalidSchedule is returned when schedule format is invalid
	ErrInvalidSchedule = errors.New("invalid schedule format")

	// ErrWorkflowNotFound is returned when a workflow id does not exist
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidWorkflow is returned for workflows with missing, duplicate or unknown task keys
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrDependencyCycle is returned when task dependencies form a cycle
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrDependencyNotFound is returned when a task depends on an id that does not exist
	ErrDependencyNotFound = errors.New("dependency task not found")

	// ErrResetNotConfirmed guards the destructive schema reset
	ErrResetNotConfirmed = errors.New("schema reset requires explicit confirmation")

	// ErrMissingDatabaseURL is a configuration error: the queue is enabled but has no store
	ErrMissingDatabaseURL = errors.New("database url is required when the queue is enabled")

	// ErrInvalidConfig wraps other configuration errors
	ErrInvalidConfig = errors.New("invalid queue configuration")
)
