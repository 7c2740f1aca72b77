package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
)

const TaskTypeMirror = "artifact:mirror"

// MirrorPayload is the asynq payload of a mirror task
type MirrorPayload struct {
	ArtifactID string `json:"artifactId"`
}

// MirrorService queues copies of committed artifact files to object storage
type MirrorService struct {
	asynqClient *asynq.Client
	log         *logger.Logger
}

func NewMirrorService(asynqClient *asynq.Client, log *logger.Logger) *MirrorService {
	return &MirrorService{asynqClient: asynqClient, log: log.With("service", "mirror")}
}

// EnqueueArtifacts queues one mirror task per artifact. Failures are logged;
// the artifact stays usable through its provider URL. Without a client it
// does nothing.
func (s *MirrorService) EnqueueArtifacts(ctx context.Context, artifacts []model.Artifact) {
	if s.asynqClient == nil {
		return
	}
	for _, a := range artifacts {
		task, err := NewMirrorTask(a.ID)
		if err != nil {
			s.log.Error("failed to create mirror task", "artifact_id", a.ID, "error", err)
			continue
		}
		_, err = s.asynqClient.EnqueueContext(ctx, task,
			asynq.Queue("mirror"),
			asynq.MaxRetry(5),
			asynq.TaskID("mirror:"+a.ID),
			asynq.Retention(24*time.Hour),
		)
		if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			s.log.Warn("failed to enqueue mirror task", "artifact_id", a.ID, "error", err)
		}
	}
}

func NewMirrorTask(artifactID string) (*asynq.Task, error) {
	data, err := json.Marshal(MirrorPayload{ArtifactID: artifactID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mirror payload: %w", err)
	}
	return asynq.NewTask(TaskTypeMirror, data), nil
}
