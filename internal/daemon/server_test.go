package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"cfgvault/internal/db"
	"cfgvault/internal/model"
	"cfgvault/internal/orchestrator"
	"cfgvault/internal/profile"
	"cfgvault/internal/repository"
	"cfgvault/internal/scheduler"
	"cfgvault/internal/storage"
	"cfgvault/internal/tunnel"
	"cfgvault/internal/verify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type cliSession struct {
	hostname string
}

func (s *cliSession) Read([]byte) (int, error)    { return 0, errors.New("not readable") }
func (s *cliSession) Write(p []byte) (int, error) { return len(p), nil }
func (s *cliSession) Close() error                { return nil }

func (s *cliSession) Run(_ context.Context, command string) (string, error) {
	if strings.HasPrefix(command, "show") {
		return "hostname " + s.hostname + "\ninterface Gi0/1\n!\nend\n", nil
	}
	return "", nil
}

type cliConnector struct{}

func (cliConnector) Open(_ context.Context, p profile.Profile, _ func(tunnel.Stage)) (tunnel.Session, error) {
	if strings.HasPrefix(p.Name, "dead") {
		return nil, &tunnel.ConnectionError{Hop: tunnel.HopTarget, Addr: p.Target.Addr(), Err: errors.New("refused")}
	}
	return &cliSession{hostname: p.Name}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zaptest.NewLogger(t)

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })

	devices := repository.NewDeviceRepository(conn)
	backups := repository.NewBackupRepository(conn)
	schedules := repository.NewScheduleRepository(conn)

	store, err := storage.New(t.TempDir(), storage.Retention{MaxCount: 5}, nil, log)
	require.NoError(t, err)

	opts := orchestrator.Options{MaxConcurrency: 2, Retries: 0, RetryDelay: time.Millisecond, AttemptTimeout: 5 * time.Second}
	orch := orchestrator.New(orchestrator.Deps{
		Devices:   devices,
		Backups:   backups,
		Artifacts: store,
		Connector: cliConnector{},
		Verifier:  verify.NewEngine(true, log),
	}, log)

	sched := scheduler.New(schedules, devices, orch, scheduler.Config{Options: opts, Location: time.UTC}, log)

	return NewServer(Deps{
		Devices:      devices,
		Groups:       repository.NewGroupRepository(conn),
		Backups:      backups,
		Schedules:    schedules,
		Orchestrator: orch,
		Scheduler:    sched,
		Options:      opts,
	}, 0, log)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func addDevice(t *testing.T, s *Server, body string) deviceView {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/devices", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[deviceView](t, rec)
}

func TestDeviceLifecycle(t *testing.T) {
	s := newTestServer(t)

	d := addDevice(t, s, `{"name":"r1","ip_address":"10.0.0.1","device_type":"cisco_ios","username":"admin","password":"pw","groups":"core, edge"}`)
	assert.Empty(t, d.Password)
	assert.ElementsMatch(t, []string{"core", "edge"}, d.GroupNames)

	rec := do(t, s, http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"pw"`)
	assert.Len(t, decode[[]deviceView](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]repository.GroupSummary](t, rec)
	require.Len(t, groups, 2)
	assert.Equal(t, int64(1), groups[0].Devices)

	rec = do(t, s, http.MethodPost, "/devices", `{"name":"r1","ip_address":"10.0.0.2","device_type":"cisco_ios"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	path := "/devices/" + itoa(d.ID)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/devices/abc", "").Code)
}

func TestAddDeviceRejectsUnusableRecords(t *testing.T) {
	s := newTestServer(t)

	for name, body := range map[string]string{
		"missing name":      `{"ip_address":"10.0.0.1","device_type":"cisco_ios"}`,
		"jump without user": `{"name":"a","ip_address":"10.0.0.1","device_type":"cisco_ios","connection_type":"jump_host","jump_server":"10.9.9.9","jump_password":"x"}`,
		"bad port":          `{"name":"b","ip_address":"10.0.0.1","device_type":"cisco_ios","port":"70000"}`,
		"unknown type":      `{"name":"c","ip_address":"10.0.0.1","device_type":"toaster"}`,
		"not json":          `{`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/devices", body).Code)
		})
	}
}

func TestDeviceProfile(t *testing.T) {
	s := newTestServer(t)
	d := addDevice(t, s, `{"name":"fw1","ip_address":"10.0.0.5","device_type":"cisco_asa","protocol":"telnet","connection_type":"jump_host","jump_server":"10.9.9.9","jump_username":"ops","jump_password":"x","jump_protocol":"ssh"}`)

	rec := do(t, s, http.MethodGet, "/devices/"+itoa(d.ID)+"/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[profileView](t, rec)
	assert.Equal(t, profile.JumpSSHToTelnet, view.Profile.Kind)
	assert.Equal(t, 23, view.Profile.Target.Port)
	assert.Equal(t, 22, view.Profile.Jump.Port)
	assert.Equal(t, "SFTP", string(view.Protocol))
	assert.Equal(t, []string{"terminal pager 0", "show running-config"}, view.Commands)
	assert.NotContains(t, rec.Body.String(), `"x"`)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/devices/999/profile", "").Code)
}

func TestManualBackup(t *testing.T) {
	s := newTestServer(t)
	addDevice(t, s, `{"name":"r1","ip_address":"10.0.0.1","device_type":"cisco_ios","groups":"core"}`)
	addDevice(t, s, `{"name":"dead1","ip_address":"10.0.0.2","device_type":"cisco_ios"}`)
	addDevice(t, s, `{"name":"r3","ip_address":"10.0.0.3","device_type":"cisco_ios","groups":"core"}`)

	rec := do(t, s, http.MethodPost, "/backups", `{"all":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[[]model.BackupResult](t, rec)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Message, "TargetUnreachable")
	assert.True(t, results[2].Success)

	rec = do(t, s, http.MethodPost, "/backups", `{"group":"core"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	results = decode[[]model.BackupResult](t, rec)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Unchanged)
	}

	rec = do(t, s, http.MethodPost, "/backups", `{"devices":["r3"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.BackupResult](t, rec), 1)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/backups", `{"group":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/backups", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/backups", `{"all":true,"retries":-1}`).Code)

	rec = do(t, s, http.MethodGet, "/backups?n=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Backup](t, rec), 2)

	rec = do(t, s, http.MethodGet, "/backups?device_id=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]model.Backup](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, model.BackupFailed, rows[0].Status)

	rec = do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[struct {
		Jobs  []model.JobSnapshot `json:"jobs"`
		Stats repository.Stats    `json:"stats"`
	}](t, rec)
	assert.Empty(t, status.Jobs)
	assert.Equal(t, repository.Stats{Total: 6, Completed: 5, Failed: 1}, status.Stats)
}

func TestScheduleEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/schedules", `{"name":"nightly","type":"daily","start_time":"02:00","enabled":true,"target_type":"all","priority":3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Schedule](t, rec)
	require.NotNil(t, created.NextRun)
	assert.True(t, created.NextRun.After(time.Now()))

	rec = do(t, s, http.MethodPost, "/schedules", `{"name":"bad","type":"weekly","start_time":"02:00","target_type":"all"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Schedule](t, rec), 1)

	id := itoa(created.ID)
	rec = do(t, s, http.MethodPost, "/schedules/"+id+"/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Schedule](t, rec).Enabled)

	rec = do(t, s, http.MethodPost, "/schedules/"+id+"/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Schedule](t, rec).Enabled)

	rec = do(t, s, http.MethodGet, "/schedules/"+id+"/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.ScheduleRun](t, rec))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/schedules/999/enable", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/schedules/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/schedules/"+id, "").Code)
}

func TestStopSignals(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/stop", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/stop", "").Code)

	select {
	case <-s.StopCh():
	default:
		t.Fatal("stop was not signalled")
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
