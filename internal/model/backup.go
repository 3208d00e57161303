package model

import "time"

type BackupStatus string

const (
	BackupCompleted BackupStatus = "COMPLETED"
	BackupFailed    BackupStatus = "FAILED"
	BackupCancelled BackupStatus = "CANCELLED"
)

type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "PENDING"
	Verified              VerificationStatus = "VERIFIED"
	VerificationUnchanged VerificationStatus = "UNCHANGED"
	VerificationFailed    VerificationStatus = "VERIFICATION_FAILED"
	VerificationMissing   VerificationStatus = "FAILED - File missing"
)

// Backup is one persisted backup attempt outcome. Failed and cancelled
// jobs are recorded too, without an artifact.
type Backup struct {
	ID                 uint               `gorm:"primarykey" json:"id"`
	DeviceID           uint               `gorm:"index;not null" json:"device_id"`
	DeviceName         string             `gorm:"not null" json:"device_name"`
	Protocol           string             `json:"protocol"`
	FilePath           string             `json:"file_path"`
	FileSize           int64              `json:"file_size"`
	Checksum           string             `gorm:"index" json:"checksum"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	Status             BackupStatus       `gorm:"not null" json:"status"`
	Message            string             `json:"message"`
	Attempts           int                `json:"attempts"`
	CreatedAt          time.Time          `gorm:"index" json:"created_at"`
}

// BackupResult is the outcome of one job as reported to callers.
type BackupResult struct {
	DeviceID     uint               `json:"device_id"`
	DeviceName   string             `json:"device_name"`
	Status       BackupStatus       `json:"status"`
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	Protocol     string             `json:"protocol,omitempty"`
	Attempts     int                `json:"attempts"`
	ArtifactPath string             `json:"artifact_path,omitempty"`
	Size         int64              `json:"size,omitempty"`
	Checksum     string             `json:"checksum,omitempty"`
	Verification VerificationStatus `json:"verification,omitempty"`
	Unchanged    bool               `json:"unchanged"`
	Timestamp    time.Time          `json:"timestamp"`
}
