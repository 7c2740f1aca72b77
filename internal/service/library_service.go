package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/makeasinger/playground/internal/client"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/repository"
)

var ErrNoStream = errors.New("song has no playable url")

// LibraryService manages an owner's songs, images and projects
type LibraryService struct {
	registry *repository.Registry
	store    client.ObjectStore
	log      *logger.Logger
}

// NewLibraryService creates a library service. store may be nil when
// mirroring is disabled.
func NewLibraryService(registry *repository.Registry, store client.ObjectStore, log *logger.Logger) *LibraryService {
	return &LibraryService{registry: registry, store: store, log: log.With("service", "library")}
}

func (s *LibraryService) ListSongs(ctx context.Context, ownerID string, f model.ListFilter) ([]model.Artifact, error) {
	return s.registry.ListSongs(ctx, ownerID, f)
}

func (s *LibraryService) ListImages(ctx context.Context, ownerID string) ([]model.Artifact, error) {
	return s.registry.ListImages(ctx, ownerID)
}

func (s *LibraryService) SetFavorite(ctx context.Context, ownerID, id string, favorite bool) error {
	return s.registry.SetFavorite(ctx, ownerID, id, favorite)
}

func (s *LibraryService) MoveToProject(ctx context.Context, ownerID, id string, projectID *string) error {
	if projectID != nil && strings.TrimSpace(*projectID) == "" {
		projectID = nil
	}
	return s.registry.MoveToProject(ctx, ownerID, id, projectID)
}

// Delete removes a song or image and, best effort, its mirrored file
func (s *LibraryService) Delete(ctx context.Context, ownerID string, kind model.ArtifactKind, id string) error {
	deleted, err := s.registry.DeleteArtifact(ctx, ownerID, kind, id)
	if err != nil {
		return err
	}
	if s.store != nil && deleted.MirrorURL != "" {
		key := mirrorKeyOf(deleted)
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn("failed to delete mirrored file", "artifact_id", id, "key", key, "error", err)
		}
	}
	return nil
}

func (s *LibraryService) CreateProject(ctx context.Context, ownerID, name string) (*model.Project, error) {
	return s.registry.CreateProject(ctx, ownerID, strings.TrimSpace(name))
}

func (s *LibraryService) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	return s.registry.ListProjects(ctx, ownerID)
}

func (s *LibraryService) DeleteProject(ctx context.Context, ownerID, id string) (int64, error) {
	return s.registry.DeleteProject(ctx, ownerID, id)
}

// StreamURL returns where a song can be played from: the mirrored copy when
// there is one, otherwise the provider's audio URL.
func (s *LibraryService) StreamURL(ctx context.Context, ownerID, id string) (string, error) {
	a, err := s.registry.GetArtifact(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	if a.Kind != model.ArtifactKindSong {
		return "", repository.ErrNotFound
	}

	if a.MirrorURL != "" {
		if client.IsRemoteURL(a.MirrorURL) {
			return a.MirrorURL, nil
		}
		if s.store != nil {
			u, err := s.store.PresignGet(ctx, a.MirrorURL, time.Hour)
			if err == nil {
				return u, nil
			}
			s.log.Warn("failed to presign mirrored file", "artifact_id", id, "error", err)
		}
	}

	var p model.SongPayload
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return "", err
	}
	switch {
	case p.AudioURL != "":
		return p.AudioURL, nil
	case p.StreamAudioURL != "":
		return p.StreamAudioURL, nil
	}
	return "", ErrNoStream
}

// mirrorKeyOf recovers the object key from a stored mirror value.
func mirrorKeyOf(a *model.Artifact) string {
	if !client.IsRemoteURL(a.MirrorURL) {
		return a.MirrorURL
	}
	if i := strings.Index(a.MirrorURL, string(a.Kind)+"s/"); i >= 0 {
		return a.MirrorURL[i:]
	}
	return a.MirrorURL
}
