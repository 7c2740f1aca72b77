// Package status turns raw provider poll payloads into a normalized
// classification. Song and image jobs report progress in different shapes;
// both are decoded here so the tracker and the client agree on the rules.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/makeasinger/playground/internal/model"
)

// ErrMalformed means the payload could not be read as a status report.
var ErrMalformed = errors.New("malformed status payload")

// Status is either a SongStatus or an ImageStatus.
type Status interface {
	Class() model.StatusClass
	// Message is the failure reason. It is only meaningful for FAILED.
	Message() string
}

// Track is one entry of a song job's result list.
type Track struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Tags           string  `json:"tags"`
	Prompt         string  `json:"prompt"`
	ModelName      string  `json:"modelName"`
	Duration       float64 `json:"duration"`
	AudioURL       string  `json:"audioUrl"`
	StreamAudioURL string  `json:"streamAudioUrl"`
	ImageURL       string  `json:"imageUrl"`
	SourceAudioURL string  `json:"sourceAudioUrl"`
}

// SongStatus is the decoded state of a song job.
type SongStatus struct {
	Raw          string
	ErrorMessage string
	Tracks       []Track
}

func (s SongStatus) Class() model.StatusClass {
	switch strings.ToLower(s.Raw) {
	case "success", "completed":
		return model.StatusSuccess
	case "pending", "running", "submitted", "queued", "text_success", "first_success":
		return model.StatusPending
	default:
		return model.StatusFailed
	}
}

func (s SongStatus) Message() string {
	if s.ErrorMessage != "" {
		return s.ErrorMessage
	}
	return fmt.Sprintf("job failed with status %s", s.Raw)
}

// ImageStatus is the decoded state of an image job.
type ImageStatus struct {
	Flag         int
	ErrorMessage string
	URLs         []string
	Prompt       string
}

func (s ImageStatus) Class() model.StatusClass {
	switch s.Flag {
	case 1:
		return model.StatusSuccess
	case 2, 3:
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

func (s ImageStatus) Message() string {
	if s.ErrorMessage != "" {
		return s.ErrorMessage
	}
	return fmt.Sprintf("job failed with status %d", s.Flag)
}

type songRecord struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     *struct {
		SunoData []Track `json:"sunoData"`
	} `json:"response"`
	SunoData []Track `json:"sunoData"`
}

type imageRecord struct {
	SuccessFlag    *int   `json:"successFlag"`
	ErrorMessage   string `json:"errorMessage"`
	ParamJSON      string `json:"paramJson"`
	ResultInfoJSON *struct {
		ResultURLs []struct {
			ResultURL string `json:"resultUrl"`
		} `json:"resultUrls"`
	} `json:"resultInfoJson"`
}

// Classify decodes a raw poll payload for the given job kind.
func Classify(kind model.JobKind, raw []byte) (Status, error) {
	var env model.ProviderEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if env.Msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrMalformed, env.Msg)
		}
		return nil, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	switch {
	case kind.IsSong():
		var rec songRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		st := SongStatus{Raw: rec.Status, ErrorMessage: rec.ErrorMessage, Tracks: rec.SunoData}
		if rec.Response != nil && len(rec.Response.SunoData) > 0 {
			st.Tracks = rec.Response.SunoData
		}
		return st, nil
	case kind.IsImage():
		var rec imageRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		st := ImageStatus{ErrorMessage: rec.ErrorMessage}
		if rec.SuccessFlag != nil {
			st.Flag = *rec.SuccessFlag
		}
		if rec.ResultInfoJSON != nil {
			for _, u := range rec.ResultInfoJSON.ResultURLs {
				if u.ResultURL != "" {
					st.URLs = append(st.URLs, u.ResultURL)
				}
			}
		}
		st.Prompt = promptFromParams(rec.ParamJSON)
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownJobKind, kind)
	}
}

// The image record echoes the submitted params as a JSON string.
func promptFromParams(paramJSON string) string {
	if paramJSON == "" {
		return ""
	}
	var p struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(paramJSON), &p); err != nil {
		return ""
	}
	return p.Prompt
}
