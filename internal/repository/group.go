package repository

import (
	"context"

	"cfgvault/internal/model"

	"gorm.io/gorm"
)

type GroupSummary struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Devices int64  `json:"devices"`
}

type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) List(ctx context.Context) ([]GroupSummary, error) {
	var out []GroupSummary
	err := r.db.WithContext(ctx).
		Model(&model.Group{}).
		Select("inventory_groups.id AS id, inventory_groups.name AS name, COUNT(device_groups.device_id) AS devices").
		Joins("LEFT JOIN device_groups ON device_groups.group_id = inventory_groups.id").
		Group("inventory_groups.id").
		Order("inventory_groups.name").
		Scan(&out).Error
	return out, err
}

func (r *GroupRepository) GetByName(ctx context.Context, name string) (model.Group, error) {
	var g model.Group
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&g).Error
	return g, wrap(err, "group "+name)
}
