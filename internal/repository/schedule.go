package repository

import (
	"context"
	"fmt"
	"time"

	"cfgvault/internal/model"

	"gorm.io/gorm"
)

type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Save inserts or updates s. Times are stored in UTC.
func (r *ScheduleRepository) Save(ctx context.Context, s *model.Schedule) error {
	s.LastRun = utc(s.LastRun)
	s.NextRun = utc(s.NextRun)
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", s.Name, err)
	}
	return nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id uint) (model.Schedule, error) {
	var s model.Schedule
	err := r.db.WithContext(ctx).First(&s, id).Error
	return s, wrap(err, fmt.Sprintf("schedule %d", id))
}

// GetAll returns every schedule, highest priority first.
func (r *ScheduleRepository) GetAll(ctx context.Context) ([]model.Schedule, error) {
	var out []model.Schedule
	err := r.db.WithContext(ctx).Order("priority desc, id asc").Find(&out).Error
	return out, err
}

// Enabled returns the enabled schedules, highest priority first.
func (r *ScheduleRepository) Enabled(ctx context.Context) ([]model.Schedule, error) {
	var out []model.Schedule
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority desc, id asc").
		Find(&out).Error
	return out, err
}

func (r *ScheduleRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Unscoped().Delete(&model.Schedule{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecordFiring advances the schedule and stores the run in one
// transaction.
func (r *ScheduleRepository) RecordFiring(ctx context.Context, id uint, firedAt time.Time, next *time.Time, run *model.ScheduleRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fired := firedAt.UTC()
		res := tx.Model(&model.Schedule{}).
			Where("id = ?", id).
			Updates(map[string]any{"last_run": &fired, "next_run": utc(next)})
		if res.Error != nil {
			return fmt.Errorf("failed to advance schedule: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
		}

		run.ScheduleID = id
		run.FiredAt = fired
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to record schedule run: %w", err)
		}
		return nil
	})
}

func (r *ScheduleRepository) Runs(ctx context.Context, scheduleID uint, limit int) ([]model.ScheduleRun, error) {
	var out []model.ScheduleRun
	err := r.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return new(t.UTC())
}
