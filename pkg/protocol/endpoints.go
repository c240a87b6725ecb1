package protocol

import "fmt"

// Hub endpoint paths consumed by the worker.
const (
	PathWorkersRegister = "/internal/workers/register"
	PathExecutionsClaim = "/internal/executions/claim"
)

// PathWorkerHeartbeat builds the heartbeat path for a worker.
func PathWorkerHeartbeat(workerID string) string {
	return fmt.Sprintf("/internal/workers/%s/heartbeat", workerID)
}

// PathExecutionEventsBatch builds the event batch path for an execution.
func PathExecutionEventsBatch(executionID string) string {
	return fmt.Sprintf("/internal/executions/%s/events/batch", executionID)
}

// PathExecutionControl builds the control long-poll path for an execution.
func PathExecutionControl(executionID string, afterSeq, waitMS int) string {
	return fmt.Sprintf("/internal/executions/%s/control?after_seq=%d&wait_ms=%d", executionID, afterSeq, waitMS)
}
