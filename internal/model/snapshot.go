package model

import "time"

type JobSnapshot struct {
	DeviceID   uint      `json:"device_id"`
	DeviceName string    `json:"device_name"`
	State      JobState  `json:"state"`
	Attempt    int       `json:"attempt"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
