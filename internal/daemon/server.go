// Package daemon serves the local HTTP API the CLI talks to and runs the
// background services.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cfgvault/internal/model"
	"cfgvault/internal/orchestrator"
	"cfgvault/internal/profile"
	"cfgvault/internal/repository"
	"cfgvault/internal/scheduler"
	"cfgvault/internal/transport"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Devices      *repository.DeviceRepository
	Groups       *repository.GroupRepository
	Backups      *repository.BackupRepository
	Schedules    *repository.ScheduleRepository
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Manager      *Manager
	// Options applies to manual backups; requests may override the
	// concurrency and retry count.
	Options orchestrator.Options
}

type Server struct {
	echo   *echo.Echo
	deps   Deps
	port   int
	log    *zap.Logger
	stopCh chan struct{}
}

func NewServer(deps Deps, port int, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		deps:   deps,
		port:   port,
		log:    log,
		stopCh: make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)

	d := s.echo.Group("/devices")
	d.GET("", s.handleListDevices)
	d.POST("", s.handleAddDevice)
	d.DELETE("/:id", s.handleRemoveDevice)
	d.GET("/:id/profile", s.handleDeviceProfile)

	s.echo.GET("/groups", s.handleListGroups)

	b := s.echo.Group("/backups")
	b.GET("", s.handleListBackups)
	b.POST("", s.handleRunBackup)

	sc := s.echo.Group("/schedules")
	sc.GET("", s.handleListSchedules)
	sc.POST("", s.handleAddSchedule)
	sc.DELETE("/:id", s.handleRemoveSchedule)
	sc.POST("/:id/enable", s.handleEnableSchedule(true))
	sc.POST("/:id/disable", s.handleEnableSchedule(false))
	sc.GET("/:id/runs", s.handleScheduleRuns)
}

func (s *Server) Start() {
	go func() {
		addr := "localhost:" + strconv.Itoa(s.port)
		s.log.Info("daemon server started", zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.deps.Manager != nil {
		s.deps.Manager.StopAll()
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func errorJSON(c echo.Context, code int, err error) error {
	return c.JSON(code, map[string]string{"error": err.Error()})
}

// storeError maps a repository error to a status code.
func storeError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, err)
	}
	return errorJSON(c, http.StatusInternalServerError, err)
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := s.deps.Backups.Stats(ctx)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	status := map[string]any{
		"jobs":  s.deps.Orchestrator.Snapshots(),
		"stats": stats,
	}
	if s.deps.Manager != nil {
		status["started_at"] = s.deps.Manager.StartedAt()
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleStop(c echo.Context) error {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

// ---------- Devices ----------

type deviceView struct {
	model.Device
	GroupNames []string `json:"group_names"`
}

func (s *Server) handleListDevices(c echo.Context) error {
	devices, err := s.deps.Devices.GetAll(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView{Device: d.Redacted(), GroupNames: d.GroupNames()})
	}
	return c.JSON(http.StatusOK, out)
}

type addDeviceRequest struct {
	Name           string `json:"name"`
	IPAddress      string `json:"ip_address"`
	DeviceType     string `json:"device_type"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	EnablePassword string `json:"enable_password"`
	Port           string `json:"port"`
	Protocol       string `json:"protocol"`
	ConnectionType string `json:"connection_type"`
	JumpServer     string `json:"jump_server"`
	JumpHostName   string `json:"jump_host_name"`
	JumpUsername   string `json:"jump_username"`
	JumpPassword   string `json:"jump_password"`
	JumpProtocol   string `json:"jump_protocol"`
	JumpPort       string `json:"jump_port"`
	UseKeys        bool   `json:"use_keys"`
	KeyFile        string `json:"key_file"`
	// Groups is a comma separated list; unknown groups are created.
	Groups string `json:"groups"`
}

func (r addDeviceRequest) device() model.Device {
	return model.Device{
		Name:           strings.TrimSpace(r.Name),
		IPAddress:      strings.TrimSpace(r.IPAddress),
		DeviceType:     strings.TrimSpace(r.DeviceType),
		Username:       r.Username,
		Password:       r.Password,
		EnablePassword: r.EnablePassword,
		Port:           r.Port,
		Protocol:       r.Protocol,
		ConnectionType: r.ConnectionType,
		JumpServer:     r.JumpServer,
		JumpHostName:   r.JumpHostName,
		JumpUsername:   r.JumpUsername,
		JumpPassword:   r.JumpPassword,
		JumpProtocol:   r.JumpProtocol,
		JumpPort:       r.JumpPort,
		UseKeys:        r.UseKeys,
		KeyFile:        r.KeyFile,
	}
}

func (s *Server) handleAddDevice(c echo.Context) error {
	var req addDeviceRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("invalid device payload"))
	}

	d := req.device()
	if d.Name == "" || d.DeviceType == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("name and device_type required"))
	}

	// Reject records that could never be backed up.
	p, err := profile.Resolve(profile.FromDevice(d))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if _, _, err := transport.Select(p, d.DeviceType); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	if err := s.deps.Devices.Add(c.Request().Context(), &d, repository.SplitGroups(req.Groups)); err != nil {
		return errorJSON(c, http.StatusConflict, err)
	}

	s.log.Info("device added",
		zap.String("device", d.Name),
		zap.Uint("device_id", d.ID),
		zap.String("kind", string(p.Kind)))

	return c.JSON(http.StatusCreated, deviceView{Device: d.Redacted(), GroupNames: d.GroupNames()})
}

func (s *Server) handleRemoveDevice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	if err := s.deps.Devices.Delete(c.Request().Context(), id); err != nil {
		return storeError(c, err)
	}
	s.deps.Orchestrator.Forget(id)

	s.log.Info("device removed", zap.Uint("device_id", id))
	return c.NoContent(http.StatusNoContent)
}

type profileView struct {
	Profile  profile.Profile    `json:"profile"`
	Protocol transport.Protocol `json:"protocol"`
	Commands []string           `json:"commands"`
}

func (s *Server) handleDeviceProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	d, err := s.deps.Devices.Get(c.Request().Context(), id)
	if err != nil {
		return storeError(c, err)
	}

	p, err := profile.Resolve(profile.FromDevice(d))
	if err != nil {
		return errorJSON(c, http.StatusUnprocessableEntity, err)
	}
	proto, cmds, err := transport.Select(p, d.DeviceType)
	if err != nil {
		return errorJSON(c, http.StatusUnprocessableEntity, err)
	}

	return c.JSON(http.StatusOK, profileView{Profile: p, Protocol: proto, Commands: cmds.All()})
}

func (s *Server) handleListGroups(c echo.Context) error {
	groups, err := s.deps.Groups.List(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, groups)
}

// ---------- Backups ----------

type backupRequest struct {
	DeviceIDs      []uint   `json:"device_ids"`
	Devices        []string `json:"devices"`
	Group          string   `json:"group"`
	All            bool     `json:"all"`
	MaxConcurrency int      `json:"max_concurrency"`
	Retries        *int     `json:"retries"`
}

func (s *Server) handleRunBackup(c echo.Context) error {
	var req backupRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("invalid backup payload"))
	}

	ctx := c.Request().Context()
	ids, err := s.targets(ctx, req)
	if err != nil {
		return storeError(c, err)
	}
	if len(ids) == 0 {
		return errorJSON(c, http.StatusBadRequest, errors.New("no devices selected"))
	}

	opts := s.deps.Options
	if req.MaxConcurrency > 0 {
		opts.MaxConcurrency = req.MaxConcurrency
	}
	if req.Retries != nil {
		opts.Retries = *req.Retries
	}

	results, err := s.deps.Orchestrator.RunBatch(ctx, ids, opts)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) targets(ctx context.Context, req backupRequest) ([]uint, error) {
	if req.All {
		return s.deps.Devices.IDs(ctx)
	}

	ids := append([]uint(nil), req.DeviceIDs...)
	for _, name := range req.Devices {
		d, err := s.deps.Devices.GetByName(ctx, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, d.ID)
	}

	if req.Group != "" {
		g, err := s.deps.Groups.GetByName(ctx, req.Group)
		if err != nil {
			return nil, err
		}
		members, err := s.deps.Devices.IDsInGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, members...)
	}

	return ids, nil
}

func (s *Server) handleListBackups(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 {
			n = parsed
		}
	}

	var deviceID uint
	if idStr := c.QueryParam("device_id"); idStr != "" {
		parsed, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, errors.New("invalid device_id"))
		}
		deviceID = uint(parsed)
	}

	backups, err := s.deps.Backups.Recent(c.Request().Context(), n, deviceID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, backups)
}

// ---------- Schedules ----------

func (s *Server) handleListSchedules(c echo.Context) error {
	schedules, err := s.deps.Schedules.GetAll(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, schedules)
}

func (s *Server) handleAddSchedule(c echo.Context) error {
	var sched model.Schedule
	if err := c.Bind(&sched); err != nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("invalid schedule payload"))
	}
	sched.ID = 0
	sched.LastRun = nil

	if err := s.deps.Scheduler.Validate(sched); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if err := s.deps.Scheduler.Save(c.Request().Context(), &sched); err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	s.log.Info("schedule added",
		zap.Uint("schedule_id", sched.ID),
		zap.String("name", sched.Name),
		zap.Timep("next_run", sched.NextRun))

	return c.JSON(http.StatusCreated, sched)
}

func (s *Server) handleRemoveSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	if err := s.deps.Schedules.Delete(c.Request().Context(), id); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEnableSchedule(enabled bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err)
		}

		sched, err := s.deps.Scheduler.SetEnabled(c.Request().Context(), id, enabled)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(http.StatusOK, sched)
	}
}

func (s *Server) handleScheduleRuns(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	runs, err := s.deps.Schedules.Runs(c.Request().Context(), id, 20)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, runs)
}
