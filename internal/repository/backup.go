package repository

import (
	"context"
	"errors"
	"fmt"

	"cfgvault/internal/model"
	"cfgvault/internal/storage"

	"gorm.io/gorm"
)

type BackupRepository struct {
	db *gorm.DB
}

func NewBackupRepository(db *gorm.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

func (r *BackupRepository) Create(ctx context.Context, b *model.Backup) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to record backup: %w", err)
	}
	return nil
}

// LatestChecksum returns the checksum of the newest completed backup of
// a device, or "" when there is none.
func (r *BackupRepository) LatestChecksum(ctx context.Context, deviceID uint) (string, error) {
	var b model.Backup
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND status = ? AND checksum <> ''", deviceID, model.BackupCompleted).
		Order("id desc").
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest backup: %w", err)
	}
	return b.Checksum, nil
}

// Recent returns the newest backups, of one device when deviceID is set.
func (r *BackupRepository) Recent(ctx context.Context, limit int, deviceID uint) ([]model.Backup, error) {
	q := r.db.WithContext(ctx).Order("id desc").Limit(limit)
	if deviceID != 0 {
		q = q.Where("device_id = ?", deviceID)
	}

	var backups []model.Backup
	return backups, q.Find(&backups).Error
}

type Stats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

func (r *BackupRepository) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status model.BackupStatus
		N      int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Backup{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, row := range rows {
		stats.Total += row.N
		switch row.Status {
		case model.BackupCompleted:
			stats.Completed = row.N
		case model.BackupFailed:
			stats.Failed = row.N
		case model.BackupCancelled:
			stats.Cancelled = row.N
		}
	}
	return stats, nil
}

func (r *BackupRepository) DeleteByPaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("file_path IN ?", paths).Delete(&model.Backup{}).Error
}

func (r *BackupRepository) FindByPath(ctx context.Context, path string) (model.Backup, error) {
	var b model.Backup
	err := r.db.WithContext(ctx).Where("file_path = ?", path).Order("id desc").First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return b, storage.ErrUnknownArtifact
	}
	return b, err
}

func (r *BackupRepository) SetVerification(ctx context.Context, id uint, status model.VerificationStatus) error {
	return r.db.WithContext(ctx).
		Model(&model.Backup{}).
		Where("id = ?", id).
		Update("verification_status", status).Error
}
