package model

import (
	"time"

	"gorm.io/datatypes"
)

// Artifact is a durable result of a successful job: one song track or one image.
// ID is the provider's identifier for the item, which makes commits idempotent.
type Artifact struct {
	ID          string         `gorm:"primaryKey;size:191" json:"id"`
	Kind        ArtifactKind   `gorm:"size:16;not null;index:idx_artifact_owner_kind,priority:2" json:"kind"`
	OwnerID     string         `gorm:"size:191;not null;index:idx_artifact_owner_kind,priority:1" json:"ownerId"`
	JobID       string         `gorm:"size:191;not null;index" json:"jobId"`
	JobKind     JobKind        `gorm:"size:32;not null" json:"jobKind"`
	ImageIndex  int            `gorm:"not null;default:0" json:"imageIndex"`
	Payload     datatypes.JSON `gorm:"not null" json:"payload"`
	IsFavorite  bool           `gorm:"not null;default:false" json:"isFavorite"`
	ProjectID   *string        `gorm:"size:64;index" json:"projectId"`
	LyricsCache datatypes.JSON `json:"-"`
	MirrorURL   string         `gorm:"size:1024" json:"mirrorUrl,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"createdAt"`
}

// SongPayload is stored in Artifact.Payload for songs.
type SongPayload struct {
	Title          string  `json:"title,omitempty"`
	Tags           string  `json:"tags,omitempty"`
	Prompt         string  `json:"prompt,omitempty"`
	ModelName      string  `json:"modelName,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	AudioURL       string  `json:"audioUrl,omitempty"`
	StreamAudioURL string  `json:"streamAudioUrl,omitempty"`
	ImageURL       string  `json:"imageUrl,omitempty"`
}

// ImagePayload is stored in Artifact.Payload for images.
type ImagePayload struct {
	ImageURL  string `json:"imageUrl"`
	ImageType string `json:"imageType"`
	Prompt    string `json:"prompt,omitempty"`
}

// Project groups songs. Deleting one moves its songs to "unfiled".
type Project struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	OwnerID   string    `gorm:"size:191;not null;index" json:"ownerId"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}
