package model

import (
	"errors"
	"strings"
)

var ErrUnknownJobKind = errors.New("unknown job kind")

// JobKind identifies the type of work submitted to the provider.
type JobKind string

const (
	JobKindSongGenerate  JobKind = "song_generate"
	JobKindSongCover     JobKind = "song_cover"
	JobKindSongExtend    JobKind = "song_extend"
	JobKindImageGenerate JobKind = "image_generate"
	JobKindImageUpscale  JobKind = "image_upscale"
	JobKindImageVary     JobKind = "image_vary"
)

var ValidJobKinds = []JobKind{
	JobKindSongGenerate, JobKindSongCover, JobKindSongExtend,
	JobKindImageGenerate, JobKindImageUpscale, JobKindImageVary,
}

// Older clients send short names.
var jobKindAliases = map[string]JobKind{
	"song":       JobKindSongGenerate,
	"suno":       JobKindSongGenerate,
	"image":      JobKindImageGenerate,
	"mj":         JobKindImageGenerate,
	"mj_upscale": JobKindImageUpscale,
	"mj_vary":    JobKindImageVary,
}

// ParseJobKind accepts canonical kinds and their legacy aliases.
func ParseJobKind(s string) (JobKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range ValidJobKinds {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := jobKindAliases[s]; ok {
		return k, nil
	}
	return "", ErrUnknownJobKind
}

func (k JobKind) IsSong() bool {
	return k == JobKindSongGenerate || k == JobKindSongCover || k == JobKindSongExtend
}

func (k JobKind) IsImage() bool {
	return k == JobKindImageGenerate || k == JobKindImageUpscale || k == JobKindImageVary
}

// ArtifactKind returns the kind of artifact a successful job of this kind produces.
func (k JobKind) ArtifactKind() ArtifactKind {
	if k.IsImage() {
		return ArtifactKindImage
	}
	return ArtifactKindSong
}

// StatusClass is the normalized classification of a provider status.
type StatusClass string

const (
	StatusPending StatusClass = "PENDING"
	StatusSuccess StatusClass = "SUCCESS"
	StatusFailed  StatusClass = "FAILED"
	StatusTimeout StatusClass = "TIMEOUT"
)

func (c StatusClass) Terminal() bool {
	return c != StatusPending
}

type ArtifactKind string

const (
	ArtifactKindSong  ArtifactKind = "song"
	ArtifactKindImage ArtifactKind = "image"
)

// Image types
const (
	ImageTypeGrid   = "grid"
	ImageTypeSingle = "single"
)
