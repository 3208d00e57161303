package repository

import (
	"context"
	"fmt"
	"strings"

	"cfgvault/internal/model"

	"gorm.io/gorm"
)

type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Add stores d and links it to the named groups, creating missing ones.
func (r *DeviceRepository) Add(ctx context.Context, d *model.Device, groups []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		linked, err := ensureGroups(tx, groups)
		if err != nil {
			return err
		}
		d.Groups = linked

		if err := tx.Create(d).Error; err != nil {
			return fmt.Errorf("failed to add device %s: %w", d.Name, err)
		}
		return nil
	})
}

func (r *DeviceRepository) GetAll(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.WithContext(ctx).Preload("Groups").Order("name").Find(&devices).Error
	return devices, err
}

func (r *DeviceRepository) Get(ctx context.Context, id uint) (model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).Preload("Groups").First(&d, id).Error
	return d, wrap(err, fmt.Sprintf("device %d", id))
}

func (r *DeviceRepository) GetByName(ctx context.Context, name string) (model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).Preload("Groups").Where("name = ?", name).First(&d).Error
	return d, wrap(err, "device "+name)
}

func (r *DeviceRepository) IDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.Device{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// IDsInGroup returns the members of a group, by group id.
func (r *DeviceRepository) IDsInGroup(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Table("device_groups").
		Where("group_id = ?", groupID).
		Order("device_id").
		Pluck("device_id", &ids).Error
	return ids, err
}

// Delete removes the device with its group links, its backup records and
// the schedules that target it directly. Artifact files stay on disk.
func (r *DeviceRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d := model.Device{}
		d.ID = id
		if err := tx.Model(&d).Association("Groups").Clear(); err != nil {
			return fmt.Errorf("failed to unlink groups: %w", err)
		}

		res := tx.Unscoped().Delete(&model.Device{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete device: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("device %d: %w", id, ErrNotFound)
		}

		if err := tx.Where("device_id = ?", id).Delete(&model.Backup{}).Error; err != nil {
			return fmt.Errorf("failed to delete backups: %w", err)
		}

		owned := tx.Unscoped().Model(&model.Schedule{}).
			Select("id").
			Where("target_type = ? AND target_id = ?", model.TargetDevice, id)
		if err := tx.Where("schedule_id IN (?)", owned).Delete(&model.ScheduleRun{}).Error; err != nil {
			return fmt.Errorf("failed to delete schedule runs: %w", err)
		}
		if err := tx.Unscoped().
			Where("target_type = ? AND target_id = ?", model.TargetDevice, id).
			Delete(&model.Schedule{}).Error; err != nil {
			return fmt.Errorf("failed to delete schedules: %w", err)
		}
		return nil
	})
}

func ensureGroups(tx *gorm.DB, names []string) ([]model.Group, error) {
	seen := make(map[string]struct{})
	var out []model.Group

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		g := model.Group{Name: name}
		if err := tx.Where(model.Group{Name: name}).FirstOrCreate(&g).Error; err != nil {
			return nil, fmt.Errorf("failed to resolve group %s: %w", name, err)
		}
		out = append(out, g)
	}

	return out, nil
}

// SplitGroups parses a comma separated group list.
func SplitGroups(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
