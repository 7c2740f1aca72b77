package model

// WebSocket message types
const (
	WSMessageTypeTrackTask = "trackTask"
	WSMessageTypeCancel    = "cancel"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSMessage is an inbound client message. TaskID/TaskType are the legacy
// names for JobID/JobKind.
type WSMessage struct {
	Type     string `json:"type"`
	JobID    string `json:"jobId,omitempty"`
	JobKind  string `json:"jobKind,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
	TaskType string `json:"taskType,omitempty"`
}

// Target resolves the job id and kind, preferring the current field names.
func (m WSMessage) Target() (jobID, kind string) {
	jobID, kind = m.JobID, m.JobKind
	if jobID == "" {
		jobID = m.TaskID
	}
	if kind == "" {
		kind = m.TaskType
	}
	return jobID, kind
}

// WSErrorEvent is pushed when tracking ends without a provider payload
// to forward (poll error, timeout, storage failure).
type WSErrorEvent struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	JobID   string `json:"jobId,omitempty"`
}

// WSPong answers a client ping.
type WSPong struct {
	Type string `json:"type"`
}
