package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/playground/internal/client"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
)

var ErrJobNotFound = errors.New("job not found")

// JobIndex remembers which owner submitted a job.
type JobIndex interface {
	Remember(ctx context.Context, rec *model.JobRecord) error
	Lookup(ctx context.Context, jobID string) (*model.JobRecord, error)
}

// JobStore is the durable side of the job index.
type JobStore interface {
	SaveJob(ctx context.Context, rec *model.JobRecord) error
	FindJob(ctx context.Context, jobID string) (*model.JobRecord, error)
}

// CachedJobIndex keeps job owners in the registry. When a Redis client is
// given, lookups are cached there for ttl.
type CachedJobIndex struct {
	store JobStore
	redis *redis.Client
	ttl   time.Duration
	log   *logger.Logger
}

func NewJobIndex(store JobStore, redisClient *redis.Client, ttl time.Duration, log *logger.Logger) *CachedJobIndex {
	return &CachedJobIndex{store: store, redis: redisClient, ttl: ttl, log: log.With("component", "job_index")}
}

// Remember stores rec unless the job already has an owner.
func (i *CachedJobIndex) Remember(ctx context.Context, rec *model.JobRecord) error {
	return i.store.SaveJob(ctx, rec)
}

// Lookup returns nil without error when the job is unknown.
func (i *CachedJobIndex) Lookup(ctx context.Context, jobID string) (*model.JobRecord, error) {
	if i.redis != nil {
		data, err := i.redis.Get(ctx, jobKey(jobID)).Bytes()
		switch {
		case err == nil:
			var rec model.JobRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
		case !errors.Is(err, redis.Nil):
			i.log.Warn("job cache read failed", "job_id", jobID, "error", err)
		}
	}

	rec, err := i.store.FindJob(ctx, jobID)
	if err != nil || rec == nil {
		return rec, err
	}
	if i.redis != nil {
		data, _ := json.Marshal(rec)
		if err := i.redis.Set(ctx, jobKey(jobID), data, i.ttl).Err(); err != nil {
			i.log.Warn("job cache write failed", "job_id", jobID, "error", err)
		}
	}
	return rec, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// JobService submits jobs to the provider and answers one-off status checks
type JobService struct {
	provider client.Provider
	jobs     JobIndex
	log      *logger.Logger
}

// NewJobService creates a job service. jobs may be nil, which disables
// ownership checks on status lookups.
func NewJobService(provider client.Provider, jobs JobIndex, log *logger.Logger) *JobService {
	return &JobService{provider: provider, jobs: jobs, log: log.With("service", "jobs")}
}

// Submit sends a job to the provider and returns its id
func (s *JobService) Submit(ctx context.Context, ownerID string, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error) {
	kind, err := model.ParseJobKind(req.JobKind)
	if err != nil {
		return nil, err
	}

	jobID, err := s.provider.SubmitJob(ctx, kind, req.Params)
	if err != nil {
		return nil, err
	}

	if s.jobs != nil {
		rec := &model.JobRecord{JobID: jobID, Kind: kind, OwnerID: ownerID, SubmittedAt: time.Now().UTC()}
		if err := s.jobs.Remember(ctx, rec); err != nil {
			s.log.Warn("failed to remember job", "job_id", jobID, "error", err)
		}
	}

	s.log.Info("job submitted", "job_id", jobID, "kind", kind, "owner", ownerID)
	return &model.SubmitJobResponse{JobID: jobID, JobKind: kind}, nil
}

// Status polls the provider once and returns the raw payload
func (s *JobService) Status(ctx context.Context, ownerID, jobID, rawKind string) ([]byte, error) {
	var kind model.JobKind
	if rawKind != "" {
		k, err := model.ParseJobKind(rawKind)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	if s.jobs != nil {
		rec, err := s.jobs.Lookup(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("job lookup failed: %w", err)
		}
		if rec != nil {
			if rec.OwnerID != ownerID {
				return nil, ErrJobNotFound
			}
			if kind == "" {
				kind = rec.Kind
			}
		}
	}
	if kind == "" {
		return nil, model.ErrUnknownJobKind
	}

	return s.provider.PollJob(ctx, jobID, kind)
}
