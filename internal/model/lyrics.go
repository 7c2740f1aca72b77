package model

import "encoding/json"

// LyricsRequest is the body of POST /api/lyrics. TaskID/AudioID are accepted
// from older clients.
type LyricsRequest struct {
	JobID      string `json:"jobId"`
	ArtifactID string `json:"artifactId"`
	TaskID     string `json:"taskId"`
	AudioID    string `json:"audioId"`
}

func (r *LyricsRequest) Normalize() {
	if r.JobID == "" {
		r.JobID = r.TaskID
	}
	if r.ArtifactID == "" {
		r.ArtifactID = r.AudioID
	}
}

// LyricsResponse carries the provider lyrics payload and where it came from.
type LyricsResponse struct {
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source"`
}

const (
	LyricsSourceCache = "cache"
	LyricsSourceLive  = "live"
)
