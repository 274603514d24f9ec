package syncer

import "errors"

var (
	// ErrDisabled is returned when synchronization is switched off.
	ErrDisabled = errors.New("product sync is disabled")
	// ErrAlreadyRunning rejects a start while another run holds the flag.
	ErrAlreadyRunning = errors.New("sync is already in progress")
	// ErrPlanNotFound means the step-mode plan expired or was never prepared.
	ErrPlanNotFound = errors.New("batch plan not found, restart the sync")
	// ErrBatchOutOfRange rejects a batch number outside the plan.
	ErrBatchOutOfRange = errors.New("batch number out of range")
	// ErrBatchDone rejects a step-mode batch that was already reconciled.
	ErrBatchDone = errors.New("batch already processed")
	// ErrStopped is returned by a step request after the run was stopped.
	ErrStopped = errors.New("sync was stopped")
	// ErrNoPublisher means asynchronous mode was requested without a queue.
	ErrNoPublisher = errors.New("asynchronous sync requires a queue publisher")
)
