package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/status"
)

// ErrNoResults means the provider reported success without any usable item.
var ErrNoResults = errors.New("job succeeded without results")

// ArtifactStore is the part of the registry the committer needs.
type ArtifactStore interface {
	UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) (int64, error)
}

// StoreCommitter writes a successful job's results to the registry.
// Committing the same job twice leaves exactly one row per item.
type StoreCommitter struct {
	store ArtifactStore
}

func NewStoreCommitter(store ArtifactStore) *StoreCommitter {
	return &StoreCommitter{store: store}
}

func (c *StoreCommitter) Commit(ctx context.Context, sub *Subscription, st status.Status) ([]model.Artifact, error) {
	artifacts, err := BuildArtifacts(sub.OwnerID, sub.JobID, sub.Kind, st)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.UpsertArtifacts(ctx, artifacts); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// BuildArtifacts maps a successful status to artifact rows. Songs use the
// provider's track id; images have no id of their own and are keyed by job
// id and position.
func BuildArtifacts(ownerID, jobID string, kind model.JobKind, st status.Status) ([]model.Artifact, error) {
	var out []model.Artifact

	switch s := st.(type) {
	case status.SongStatus:
		for _, tr := range s.Tracks {
			if tr.ID == "" {
				continue
			}
			payload, err := json.Marshal(model.SongPayload{
				Title:          tr.Title,
				Tags:           tr.Tags,
				Prompt:         tr.Prompt,
				ModelName:      tr.ModelName,
				Duration:       tr.Duration,
				AudioURL:       tr.AudioURL,
				StreamAudioURL: tr.StreamAudioURL,
				ImageURL:       tr.ImageURL,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, model.Artifact{
				ID:      tr.ID,
				Kind:    model.ArtifactKindSong,
				OwnerID: ownerID,
				JobID:   jobID,
				JobKind: kind,
				Payload: datatypes.JSON(payload),
			})
		}
	case status.ImageStatus:
		imageType := model.ImageTypeGrid
		if kind == model.JobKindImageUpscale {
			imageType = model.ImageTypeSingle
		}
		for i, u := range s.URLs {
			payload, err := json.Marshal(model.ImagePayload{ImageURL: u, ImageType: imageType, Prompt: s.Prompt})
			if err != nil {
				return nil, err
			}
			out = append(out, model.Artifact{
				ID:         ImageArtifactID(jobID, i),
				Kind:       model.ArtifactKindImage,
				OwnerID:    ownerID,
				JobID:      jobID,
				JobKind:    kind,
				ImageIndex: i,
				Payload:    datatypes.JSON(payload),
			})
		}
	default:
		return nil, fmt.Errorf("unsupported status %T", st)
	}

	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// ImageArtifactID is the registry id of image N of a job.
func ImageArtifactID(jobID string, index int) string {
	return fmt.Sprintf("%s_%d", jobID, index)
}
