package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/playground/internal/client"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/repository"
)

// LyricsService serves timestamped lyrics. Lookups go Redis, then the
// artifact row, then the provider; a provider hit fills both caches.
type LyricsService struct {
	registry *repository.Registry
	provider client.Provider
	redis    *redis.Client
	ttl      time.Duration
	log      *logger.Logger
}

// NewLyricsService creates a lyrics service. redisClient may be nil.
func NewLyricsService(registry *repository.Registry, provider client.Provider, redisClient *redis.Client, log *logger.Logger) *LyricsService {
	return &LyricsService{
		registry: registry,
		provider: provider,
		redis:    redisClient,
		ttl:      6 * time.Hour,
		log:      log.With("service", "lyrics"),
	}
}

// Get returns lyrics for one song owned by ownerID
func (s *LyricsService) Get(ctx context.Context, ownerID, artifactID string) (*model.LyricsResponse, error) {
	a, err := s.registry.GetArtifact(ctx, ownerID, artifactID)
	if err != nil {
		return nil, err
	}
	if a.Kind != model.ArtifactKindSong {
		return nil, repository.ErrNotFound
	}

	if data := s.fromRedis(ctx, artifactID); data != nil {
		return &model.LyricsResponse{Data: data, Source: model.LyricsSourceCache}, nil
	}
	if len(a.LyricsCache) > 0 {
		s.toRedis(ctx, artifactID, json.RawMessage(a.LyricsCache))
		return &model.LyricsResponse{Data: json.RawMessage(a.LyricsCache), Source: model.LyricsSourceCache}, nil
	}

	data, err := s.provider.FetchLyrics(ctx, a.JobID, artifactID)
	if err != nil {
		return nil, err
	}

	if err := s.registry.SetLyricsCache(ctx, artifactID, data); err != nil {
		s.log.Warn("failed to cache lyrics", "artifact_id", artifactID, "error", err)
	}
	s.toRedis(ctx, artifactID, data)
	return &model.LyricsResponse{Data: data, Source: model.LyricsSourceLive}, nil
}

func (s *LyricsService) fromRedis(ctx context.Context, artifactID string) json.RawMessage {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, lyricsKey(artifactID)).Bytes()
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

func (s *LyricsService) toRedis(ctx context.Context, artifactID string, data json.RawMessage) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, lyricsKey(artifactID), []byte(data), s.ttl).Err(); err != nil {
		s.log.Debug("failed to write lyrics to redis", "artifact_id", artifactID, "error", err)
	}
}

func lyricsKey(artifactID string) string {
	return fmt.Sprintf("lyrics:%s", artifactID)
}
