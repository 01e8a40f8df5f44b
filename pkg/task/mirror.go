package task

const (
	TaskTypeMirrorRun = "mirror:run"

	TriggerSchedule = "schedule"
	TriggerHTTP     = "http"
	TriggerCLI      = "cli"
)

// MirrorRunPayload doubles as the queue's dedup identity, so it carries
// nothing that changes between two requests for the same trigger.
type MirrorRunPayload struct {
	Trigger string `json:"trigger"`
}

type MirrorRunResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Copied   int    `json:"copied"`
	Failed   int    `json:"failed"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}
