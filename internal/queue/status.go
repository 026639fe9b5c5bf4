// Copyright 2025 James Ross
package queue

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
)

// WorkerStatus is the lifecycle state of a worker.
type WorkerStatus string

const (
	WorkerStarted    WorkerStatus = "started"
	WorkerBusy       WorkerStatus = "busy"
	WorkerIdle       WorkerStatus = "idle"
	WorkerSuspended  WorkerStatus = "suspended"
)
