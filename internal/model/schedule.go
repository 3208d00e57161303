package model

import (
	"time"

	"gorm.io/gorm"
)

type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleCustom  ScheduleType = "custom"
)

type TargetType string

const (
	TargetDevice TargetType = "device"
	TargetGroup  TargetType = "group"
	TargetAll    TargetType = "all"
)

// Schedule fires backups for its target. DaysOfWeek uses 0 for Monday.
// Rule holds a cron expression for custom schedules; an empty Rule
// falls back to matching DaysOfWeek, DaysOfMonth and Months.
type Schedule struct {
	gorm.Model
	Name        string       `gorm:"not null" json:"name"`
	Type        ScheduleType `gorm:"not null" json:"type"`
	Priority    int          `gorm:"not null" json:"priority"`
	Enabled     bool         `gorm:"not null" json:"enabled"`
	StartTime   string       `gorm:"not null" json:"start_time"`
	DaysOfWeek  []int        `gorm:"serializer:json" json:"days_of_week,omitempty"`
	DaysOfMonth []int        `gorm:"serializer:json" json:"days_of_month,omitempty"`
	Months      []int        `gorm:"serializer:json" json:"months,omitempty"`
	Rule        string       `json:"rule,omitempty"`
	TargetType  TargetType   `gorm:"not null" json:"target_type"`
	TargetID    uint         `json:"target_id,omitempty"`
	LastRun     *time.Time   `json:"last_run"`
	NextRun     *time.Time   `gorm:"index" json:"next_run"`
}

type ScheduleRun struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	ScheduleID uint      `gorm:"index;not null" json:"schedule_id"`
	FiredAt    time.Time `gorm:"not null" json:"fired_at"`
	Devices    int       `json:"devices"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Cancelled  int       `json:"cancelled"`
}
