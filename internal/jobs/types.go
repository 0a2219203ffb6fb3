// Package jobs defines the asynq task names and payloads shared by the
// API and worker processes.
package jobs

const TaskSyncPending = "sync:pending_queue"

type SyncPendingPayload struct {
	// Reason records what triggered the pass, for log context.
	Reason string `json:"reason,omitempty"`
}
