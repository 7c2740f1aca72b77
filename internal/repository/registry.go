package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/makeasinger/playground/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrProjectNotFound = errors.New("project not found")
)

// Registry is the durable store of artifacts and projects. Every query is
// scoped by owner except the internal writers used by background workers.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// UpsertArtifacts inserts artifacts whose id is not yet present and leaves
// existing rows untouched. It returns how many rows were new.
func (r *Registry) UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) (int64, error) {
	if len(artifacts) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range artifacts {
		if artifacts[i].CreatedAt.IsZero() {
			artifacts[i].CreatedAt = now
		}
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&artifacts)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to upsert artifacts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SaveJob records the owner of a job. The first record for an id wins.
func (r *Registry) SaveJob(ctx context.Context, rec *model.JobRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// FindJob returns nil without error when the job is unknown.
func (r *Registry) FindJob(ctx context.Context, jobID string) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return &rec, nil
}

// GetArtifact returns one artifact owned by ownerID
func (r *Registry) GetArtifact(ctx context.Context, ownerID, id string) (*model.Artifact, error) {
	var a model.Artifact
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &a, nil
}

// GetArtifactByID is used by background workers that act on behalf of the owner.
func (r *Registry) GetArtifactByID(ctx context.Context, id string) (*model.Artifact, error) {
	var a model.Artifact
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &a, nil
}

// ListArtifacts returns an owner's artifacts of one kind, newest first
func (r *Registry) ListArtifacts(ctx context.Context, ownerID string, kind model.ArtifactKind, f model.ListFilter) ([]model.Artifact, error) {
	q := r.db.WithContext(ctx).Where("owner_id = ? AND kind = ?", ownerID, kind)
	switch {
	case f.ProjectID != nil:
		q = q.Where("project_id = ?", *f.ProjectID)
	case f.Unfiled:
		q = q.Where("project_id IS NULL")
	}
	if f.FavoritesOnly {
		q = q.Where("is_favorite = ?", true)
	}

	var out []model.Artifact
	if err := q.Order("created_at DESC").Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return out, nil
}

func (r *Registry) ListSongs(ctx context.Context, ownerID string, f model.ListFilter) ([]model.Artifact, error) {
	return r.ListArtifacts(ctx, ownerID, model.ArtifactKindSong, f)
}

func (r *Registry) ListImages(ctx context.Context, ownerID string) ([]model.Artifact, error) {
	return r.ListArtifacts(ctx, ownerID, model.ArtifactKindImage, model.ListFilter{})
}

// SetFavorite flips the favorite flag of a song
func (r *Registry) SetFavorite(ctx context.Context, ownerID, id string, favorite bool) error {
	res := r.db.WithContext(ctx).Model(&model.Artifact{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("is_favorite", favorite)
	if res.Error != nil {
		return fmt.Errorf("failed to set favorite: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveToProject files a song under a project, or unfiles it when projectID is nil
func (r *Registry) MoveToProject(ctx context.Context, ownerID, id string, projectID *string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if projectID != nil {
			var count int64
			if err := tx.Model(&model.Project{}).
				Where("id = ? AND owner_id = ?", *projectID, ownerID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("failed to look up project: %w", err)
			}
			if count == 0 {
				return ErrProjectNotFound
			}
		}

		res := tx.Model(&model.Artifact{}).
			Where("id = ? AND owner_id = ? AND kind = ?", id, ownerID, model.ArtifactKindSong).
			Update("project_id", projectID)
		if res.Error != nil {
			return fmt.Errorf("failed to move artifact: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteArtifact removes an artifact and returns the deleted row
func (r *Registry) DeleteArtifact(ctx context.Context, ownerID string, kind model.ArtifactKind, id string) (*model.Artifact, error) {
	var deleted model.Artifact
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND owner_id = ? AND kind = ?", id, ownerID, kind).First(&deleted).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get artifact: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.Artifact{}).Error; err != nil {
			return fmt.Errorf("failed to delete artifact: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// SetLyricsCache stores fetched lyrics on the artifact row
func (r *Registry) SetLyricsCache(ctx context.Context, id string, lyrics json.RawMessage) error {
	res := r.db.WithContext(ctx).Model(&model.Artifact{}).
		Where("id = ?", id).
		Update("lyrics_cache", datatypes.JSON(lyrics))
	if res.Error != nil {
		return fmt.Errorf("failed to cache lyrics: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMirrorURL records where the artifact's file was copied to
func (r *Registry) SetMirrorURL(ctx context.Context, id, mirrorURL string) error {
	res := r.db.WithContext(ctx).Model(&model.Artifact{}).
		Where("id = ?", id).
		Update("mirror_url", mirrorURL)
	if res.Error != nil {
		return fmt.Errorf("failed to set mirror url: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateProject adds a named project for an owner
func (r *Registry) CreateProject(ctx context.Context, ownerID, name string) (*model.Project, error) {
	p := &model.Project{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// ListProjects returns an owner's projects, oldest first
func (r *Registry) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	var out []model.Project
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").Order("id").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

// DeleteProject moves the project's songs to unfiled and deletes the
// project in one transaction. It returns how many songs were moved.
func (r *Registry) DeleteProject(ctx context.Context, ownerID, id string) (int64, error) {
	var reassigned int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.Project{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrProjectNotFound
		}

		res = tx.Model(&model.Artifact{}).
			Where("project_id = ? AND owner_id = ?", id, ownerID).
			Update("project_id", nil)
		if res.Error != nil {
			return fmt.Errorf("failed to reassign songs: %w", res.Error)
		}
		reassigned = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reassigned, nil
}
