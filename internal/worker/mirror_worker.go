package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/playground/internal/client"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/repository"
	"github.com/makeasinger/playground/internal/service"
)

// ArtifactRegistry is the part of the registry the mirror worker needs
type ArtifactRegistry interface {
	GetArtifactByID(ctx context.Context, id string) (*model.Artifact, error)
	SetMirrorURL(ctx context.Context, id, mirrorURL string) error
}

// MirrorWorker copies artifact files from the provider to object storage
type MirrorWorker struct {
	registry   ArtifactRegistry
	store      client.ObjectStore
	httpClient *http.Client
	log        *logger.Logger
}

// NewMirrorWorker creates a new mirror worker
func NewMirrorWorker(registry ArtifactRegistry, store client.ObjectStore, log *logger.Logger) *MirrorWorker {
	return &MirrorWorker{
		registry:   registry,
		store:      store,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        log.With("worker", "mirror"),
	}
}

// ProcessTask handles mirror task processing
func (w *MirrorWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.MirrorPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal mirror payload: %v: %w", err, asynq.SkipRetry)
	}

	a, err := w.registry.GetArtifactByID(ctx, payload.ArtifactID)
	if errors.Is(err, repository.ErrNotFound) {
		// Deleted before the task ran
		return fmt.Errorf("artifact %s: %w", payload.ArtifactID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if a.MirrorURL != "" {
		return nil
	}

	source, ext, contentType := sourceOf(a)
	if source == "" {
		w.log.Warn("artifact has no file to mirror", "artifact_id", a.ID)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v: %w", err, asynq.SkipRetry)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", a.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download of %s returned status %d", a.ID, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		contentType = ct
	}

	mirrorURL, err := w.store.Put(ctx, client.MirrorKey(string(a.Kind), a.ID, ext), resp.Body, contentType)
	if err != nil {
		return err
	}
	if err := w.registry.SetMirrorURL(ctx, a.ID, mirrorURL); err != nil {
		return err
	}

	w.log.Info("artifact mirrored", "artifact_id", a.ID, "url", mirrorURL)
	return nil
}

// sourceOf picks the provider file for an artifact along with a file
// extension and a fallback content type.
func sourceOf(a *model.Artifact) (string, string, string) {
	switch a.Kind {
	case model.ArtifactKindSong:
		var p model.SongPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", "", ""
		}
		src := p.AudioURL
		if src == "" {
			src = p.StreamAudioURL
		}
		return src, extOf(src, ".mp3"), "audio/mpeg"
	case model.ArtifactKindImage:
		var p model.ImagePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", "", ""
		}
		return p.ImageURL, extOf(p.ImageURL, ".png"), "image/png"
	}
	return "", "", ""
}

func extOf(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	ext := path.Ext(u.Path)
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}
