package storage

import (
	"context"
	"errors"

	"cfgvault/internal/model"

	"go.uber.org/zap"
)

var ErrUnknownArtifact = errors.New("artifact is not tracked")

type AuditStore interface {
	FindByPath(ctx context.Context, path string) (model.Backup, error)
	SetVerification(ctx context.Context, id uint, status model.VerificationStatus) error
}

type FileVerifier interface {
	VerifyFile(path, expectedChecksum string) (model.VerificationStatus, error)
}

// Auditor re-verifies tracked artifacts when they change on disk. A
// deleted artifact marks its backup row as missing; modified content
// marks it failed.
type Auditor struct {
	store    AuditStore
	verifier FileVerifier
	log      *zap.Logger
}

func NewAuditor(store AuditStore, verifier FileVerifier, log *zap.Logger) *Auditor {
	return &Auditor{store: store, verifier: verifier, log: log}
}

// Run consumes events until inCh closes or ctx ends.
func (a *Auditor) Run(ctx context.Context, inCh <-chan model.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-inCh:
			if !ok {
				return
			}
			a.Handle(ctx, event)
		}
	}
}

func (a *Auditor) Handle(ctx context.Context, event model.FileEvent) {
	row, err := a.store.FindByPath(ctx, event.Path)
	if err != nil {
		if !errors.Is(err, ErrUnknownArtifact) {
			a.log.Warn("failed to look up artifact", zap.String("path", event.Path), zap.Error(err))
		}
		return
	}

	var status model.VerificationStatus
	switch event.Type {
	case model.EventRemove, model.EventRename:
		status = model.VerificationMissing
	default:
		status, err = a.verifier.VerifyFile(event.Path, row.Checksum)
		if err != nil {
			a.log.Warn("failed to verify artifact", zap.String("path", event.Path), zap.Error(err))
		}
		// Intact content keeps whatever the backup recorded.
		if status == model.Verified {
			return
		}
	}

	if status == row.VerificationStatus {
		return
	}

	if err := a.store.SetVerification(ctx, row.ID, status); err != nil {
		a.log.Error("failed to update verification status",
			zap.Uint("backup_id", row.ID),
			zap.String("path", event.Path),
			zap.Error(err))
		return
	}

	a.log.Info("artifact verification changed",
		zap.String("device", row.DeviceName),
		zap.String("path", event.Path),
		zap.String("from", string(row.VerificationStatus)),
		zap.String("to", string(status)))
}
