package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cfgvault/internal/model"
	"cfgvault/internal/verify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memAuditStore struct {
	rows map[string]*model.Backup
}

func (m *memAuditStore) FindByPath(_ context.Context, path string) (model.Backup, error) {
	b, ok := m.rows[path]
	if !ok {
		return model.Backup{}, ErrUnknownArtifact
	}
	return *b, nil
}

func (m *memAuditStore) SetVerification(_ context.Context, id uint, status model.VerificationStatus) error {
	for _, b := range m.rows {
		if b.ID == id {
			b.VerificationStatus = status
		}
	}
	return nil
}

func setupAudit(t *testing.T, content string) (*Auditor, *memAuditStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "r1.cfg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	store := &memAuditStore{rows: map[string]*model.Backup{
		path: {
			ID:                 7,
			DeviceName:         "r1",
			FilePath:           path,
			Checksum:           verify.Checksum([]byte(content)),
			VerificationStatus: model.VerificationFailed,
		},
	}}

	log := zaptest.NewLogger(t)
	return NewAuditor(store, verify.NewEngine(true, log), log), store, path
}

func TestAuditorMarksRemovedArtifactMissing(t *testing.T) {
	a, store, path := setupAudit(t, "hostname r1\n")
	require.NoError(t, os.Remove(path))

	a.Handle(context.Background(), model.FileEvent{Type: model.EventRemove, Path: path})

	assert.Equal(t, model.VerificationMissing, store.rows[path].VerificationStatus)
}

func TestAuditorKeepsStatusOfIntactArtifact(t *testing.T) {
	a, store, path := setupAudit(t, "hostname r1\n")

	a.Handle(context.Background(), model.FileEvent{Type: model.EventWrite, Path: path})

	assert.Equal(t, model.VerificationFailed, store.rows[path].VerificationStatus)
}

func TestAuditorFlagsTamperedArtifact(t *testing.T) {
	a, store, path := setupAudit(t, "hostname r1\n")
	store.rows[path].VerificationStatus = model.Verified
	require.NoError(t, os.WriteFile(path, []byte("hostname evil\n"), 0600))

	a.Handle(context.Background(), model.FileEvent{Type: model.EventWrite, Path: path})

	assert.Equal(t, model.VerificationFailed, store.rows[path].VerificationStatus)
}

func TestAuditorIgnoresUntrackedFiles(t *testing.T) {
	a, store, path := setupAudit(t, "x")

	a.Handle(context.Background(), model.FileEvent{Type: model.EventRemove, Path: path + ".other"})

	assert.Equal(t, model.VerificationFailed, store.rows[path].VerificationStatus)
}

func TestAuditorRunStopsWhenInputCloses(t *testing.T) {
	a, store, path := setupAudit(t, "x")
	in := make(chan model.FileEvent, 1)
	in <- model.FileEvent{Type: model.EventRename, Path: path}
	close(in)

	a.Run(context.Background(), in)

	assert.Equal(t, model.VerificationMissing, store.rows[path].VerificationStatus)
}
