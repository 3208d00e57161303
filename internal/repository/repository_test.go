package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cfgvault/internal/db"
	"cfgvault/internal/model"
	"cfgvault/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	return conn
}

func device(name string) *model.Device {
	return &model.Device{Name: name, IPAddress: "10.0.0.1", DeviceType: "cisco_ios", Username: "admin", Password: "pw"}
}

// ---------- Devices ----------

func TestDeviceAddLinksGroups(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	devices := NewDeviceRepository(conn)
	groups := NewGroupRepository(conn)

	require.NoError(t, devices.Add(ctx, device("r1"), SplitGroups("core, dc1,core")))
	require.NoError(t, devices.Add(ctx, device("r2"), []string{"core"}))

	got, err := devices.GetByName(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"core", "dc1"}, got.GroupNames())

	summary, err := groups.List(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "core", summary[0].Name)
	assert.EqualValues(t, 2, summary[0].Devices)
	assert.Equal(t, "dc1", summary[1].Name)
	assert.EqualValues(t, 1, summary[1].Devices)

	core, err := groups.GetByName(ctx, "core")
	require.NoError(t, err)
	ids, err := devices.IDsInGroup(ctx, core.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestDeviceNamesAreUnique(t *testing.T) {
	ctx := context.Background()
	devices := NewDeviceRepository(openDB(t))

	require.NoError(t, devices.Add(ctx, device("r1"), nil))
	assert.Error(t, devices.Add(ctx, device("r1"), nil))
}

func TestDeviceDeleteAllowsReAdd(t *testing.T) {
	ctx := context.Background()
	devices := NewDeviceRepository(openDB(t))

	d := device("r1")
	require.NoError(t, devices.Add(ctx, d, []string{"core"}))
	require.NoError(t, devices.Delete(ctx, d.ID))

	_, err := devices.Get(ctx, d.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.True(t, errors.Is(devices.Delete(ctx, d.ID), ErrNotFound))
	require.NoError(t, devices.Add(ctx, device("r1"), nil))
}

func TestDeviceIDs(t *testing.T) {
	ctx := context.Background()
	devices := NewDeviceRepository(openDB(t))

	for _, n := range []string{"b", "a", "c"} {
		require.NoError(t, devices.Add(ctx, device(n), nil))
	}

	ids, err := devices.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, ids)

	all, err := devices.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", all[0].Name)
}

// ---------- Backups ----------

func TestLatestChecksumSkipsFailures(t *testing.T) {
	ctx := context.Background()
	backups := NewBackupRepository(openDB(t))

	sum, err := backups.LatestChecksum(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, sum)

	require.NoError(t, backups.Create(ctx, &model.Backup{DeviceID: 1, DeviceName: "r1", Status: model.BackupCompleted, Checksum: "aaa"}))
	require.NoError(t, backups.Create(ctx, &model.Backup{DeviceID: 1, DeviceName: "r1", Status: model.BackupFailed}))
	require.NoError(t, backups.Create(ctx, &model.Backup{DeviceID: 2, DeviceName: "r2", Status: model.BackupCompleted, Checksum: "zzz"}))

	sum, err = backups.LatestChecksum(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "aaa", sum)
}

func TestRecentAndStats(t *testing.T) {
	ctx := context.Background()
	backups := NewBackupRepository(openDB(t))

	for i, st := range []model.BackupStatus{model.BackupCompleted, model.BackupFailed, model.BackupCompleted, model.BackupCancelled} {
		require.NoError(t, backups.Create(ctx, &model.Backup{DeviceID: uint(i%2 + 1), DeviceName: "d", Status: st}))
	}

	recent, err := backups.Recent(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.EqualValues(t, 4, recent[0].ID)

	mine, err := backups.Recent(ctx, 10, 2)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	stats, err := backups.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Completed: 2, Failed: 1, Cancelled: 1}, stats)
}

func TestFindByPathAndVerification(t *testing.T) {
	ctx := context.Background()
	backups := NewBackupRepository(openDB(t))

	_, err := backups.FindByPath(ctx, "/nope.cfg")
	assert.ErrorIs(t, err, storage.ErrUnknownArtifact)

	b := &model.Backup{DeviceID: 1, DeviceName: "r1", Status: model.BackupCompleted, FilePath: "/b/r1.cfg", VerificationStatus: model.Verified}
	require.NoError(t, backups.Create(ctx, b))
	require.NoError(t, backups.SetVerification(ctx, b.ID, model.VerificationMissing))

	got, err := backups.FindByPath(ctx, "/b/r1.cfg")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationMissing, got.VerificationStatus)

	require.NoError(t, backups.DeleteByPaths(ctx, []string{"/b/r1.cfg"}))
	require.NoError(t, backups.DeleteByPaths(ctx, nil))
	_, err = backups.FindByPath(ctx, "/b/r1.cfg")
	assert.ErrorIs(t, err, storage.ErrUnknownArtifact)
}

// ---------- Schedules ----------

func TestScheduleSaveStoresUTCAndOrders(t *testing.T) {
	ctx := context.Background()
	schedules := NewScheduleRepository(openDB(t))

	tokyo := time.FixedZone("JST", 9*3600)
	next := time.Date(2026, 1, 1, 11, 0, 0, 0, tokyo)

	low := &model.Schedule{Name: "low", Type: model.ScheduleDaily, Priority: 1, Enabled: true, StartTime: "02:00", TargetType: model.TargetAll, NextRun: &next}
	high := &model.Schedule{Name: "high", Type: model.ScheduleDaily, Priority: 9, Enabled: true, StartTime: "02:00", TargetType: model.TargetAll}
	off := &model.Schedule{Name: "off", Type: model.ScheduleDaily, Priority: 5, StartTime: "02:00", TargetType: model.TargetAll}
	for _, s := range []*model.Schedule{low, high, off} {
		require.NoError(t, schedules.Save(ctx, s))
	}

	got, err := schedules.Get(ctx, low.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(next))

	all, err := schedules.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "off", "low"}, []string{all[0].Name, all[1].Name, all[2].Name})

	enabled, err := schedules.Enabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
	assert.False(t, off.Enabled)
}

func TestRecordFiring(t *testing.T) {
	ctx := context.Background()
	schedules := NewScheduleRepository(openDB(t))

	s := &model.Schedule{Name: "nightly", Type: model.ScheduleDaily, Enabled: true, StartTime: "02:00", TargetType: model.TargetAll}
	require.NoError(t, schedules.Save(ctx, s))

	fired := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	next := fired.Add(24 * time.Hour)
	run := &model.ScheduleRun{Devices: 3, Succeeded: 2, Failed: 1}
	require.NoError(t, schedules.RecordFiring(ctx, s.ID, fired, &next, run))

	got, err := schedules.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(fired))
	assert.True(t, got.NextRun.Equal(next))

	runs, err := schedules.Runs(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Succeeded)

	assert.ErrorIs(t, schedules.RecordFiring(ctx, 999, fired, nil, &model.ScheduleRun{}), ErrNotFound)
	runs, err = schedules.Runs(ctx, 999, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "failed firing leaves no run behind")
}

func TestScheduleDelete(t *testing.T) {
	ctx := context.Background()
	schedules := NewScheduleRepository(openDB(t))

	s := &model.Schedule{Name: "x", Type: model.ScheduleDaily, StartTime: "01:00", TargetType: model.TargetAll}
	require.NoError(t, schedules.Save(ctx, s))
	require.NoError(t, schedules.Delete(ctx, s.ID))
	assert.ErrorIs(t, schedules.Delete(ctx, s.ID), ErrNotFound)
}

func TestDeviceDeleteCascades(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	devices := NewDeviceRepository(conn)
	backups := NewBackupRepository(conn)
	schedules := NewScheduleRepository(conn)

	d := device("r1")
	other := device("r2")
	require.NoError(t, devices.Add(ctx, d, nil))
	require.NoError(t, devices.Add(ctx, other, nil))

	require.NoError(t, backups.Create(ctx, &model.Backup{DeviceID: d.ID, DeviceName: d.Name, Status: model.BackupCompleted}))
	require.NoError(t, backups.Create(ctx, &model.Backup{DeviceID: other.ID, DeviceName: other.Name, Status: model.BackupCompleted}))

	own := &model.Schedule{Name: "own", Type: model.ScheduleDaily, StartTime: "01:00", TargetType: model.TargetDevice, TargetID: d.ID}
	all := &model.Schedule{Name: "all", Type: model.ScheduleDaily, StartTime: "01:00", TargetType: model.TargetAll}
	require.NoError(t, schedules.Save(ctx, own))
	require.NoError(t, schedules.Save(ctx, all))
	require.NoError(t, schedules.RecordFiring(ctx, own.ID, time.Now(), nil, &model.ScheduleRun{Devices: 1}))

	require.NoError(t, devices.Delete(ctx, d.ID))

	rows, err := backups.Recent(ctx, 10, d.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = backups.Recent(ctx, 10, other.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = schedules.Get(ctx, own.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = schedules.Get(ctx, all.ID)
	assert.NoError(t, err)

	runs, err := schedules.Runs(ctx, own.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
