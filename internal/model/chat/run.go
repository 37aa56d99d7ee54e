package chat

// Run statuses.
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

// Run is one execution of the remote assistant against a thread. Ephemeral:
// it exists only for the duration of a request/poll cycle and is never
// persisted.
type Run struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	ErrorMsg string `json:"error,omitempty"`
	// Code carries the collaborator's HTTP status on failure, so callers can
	// single out 401-class errors.
	Code int `json:"-"`
}
