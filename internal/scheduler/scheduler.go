// Package scheduler fires backup batches for due schedules.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cfgvault/internal/model"
	"cfgvault/internal/orchestrator"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

type Store interface {
	Save(ctx context.Context, s *model.Schedule) error
	Get(ctx context.Context, id uint) (model.Schedule, error)
	Enabled(ctx context.Context) ([]model.Schedule, error)
	RecordFiring(ctx context.Context, id uint, firedAt time.Time, next *time.Time, run *model.ScheduleRun) error
}

type Targets interface {
	IDs(ctx context.Context) ([]uint, error)
	IDsInGroup(ctx context.Context, groupID uint) ([]uint, error)
}

type Runner interface {
	RunBatch(ctx context.Context, ids []uint, opts orchestrator.Options) ([]model.BackupResult, error)
}

type Config struct {
	Options  orchestrator.Options
	Interval time.Duration
	Location *time.Location
	Rules    RuleFactory
	Clock    clock.Clock
}

type Scheduler struct {
	store    Store
	targets  Targets
	runner   Runner
	opts     orchestrator.Options
	interval time.Duration
	loc      *time.Location
	rules    RuleFactory
	clock    clock.Clock
	log      *zap.Logger
}

func New(store Store, targets Targets, runner Runner, cfg Config, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		store:    store,
		targets:  targets,
		runner:   runner,
		opts:     cfg.Options,
		interval: cfg.Interval,
		loc:      cfg.Location,
		rules:    cfg.Rules,
		clock:    cfg.Clock,
		log:      log,
	}

	if s.interval <= 0 {
		s.interval = 30 * time.Second
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.rules == nil {
		s.rules = DefaultRules
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}

	return s
}

// Validate checks that s is well formed and has a future occurrence.
func (sc *Scheduler) Validate(s model.Schedule) error {
	if s.Name == "" {
		return errors.New("schedule name is required")
	}

	switch s.TargetType {
	case model.TargetAll:
	case model.TargetDevice, model.TargetGroup:
		if s.TargetID == 0 {
			return fmt.Errorf("%s target needs an id", s.TargetType)
		}
	default:
		return fmt.Errorf("unknown target type %q", s.TargetType)
	}

	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("day of week %d out of range 0-6", d)
		}
	}
	for _, d := range s.DaysOfMonth {
		if d < 1 || d > 31 {
			return fmt.Errorf("day of month %d out of range 1-31", d)
		}
	}
	for _, m := range s.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("month %d out of range 1-12", m)
		}
	}

	_, err := nextRun(s, sc.clock.Now().In(sc.loc), sc.rules)
	return err
}

// Save validates s, recomputes its next run and stores it.
func (sc *Scheduler) Save(ctx context.Context, s *model.Schedule) error {
	if err := sc.Validate(*s); err != nil {
		return err
	}

	next, err := sc.next(*s, sc.clock.Now())
	if err != nil {
		return err
	}
	s.NextRun = &next

	return sc.store.Save(ctx, s)
}

func (sc *Scheduler) SetEnabled(ctx context.Context, id uint, enabled bool) (model.Schedule, error) {
	s, err := sc.store.Get(ctx, id)
	if err != nil {
		return s, err
	}

	s.Enabled = enabled
	return s, sc.Save(ctx, &s)
}

// DueSchedules returns the enabled schedules whose next run is at or
// before now, highest priority first, then by id.
func (sc *Scheduler) DueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	all, err := sc.store.Enabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	var due []model.Schedule
	for _, s := range all {
		if s.Enabled && s.NextRun != nil && !s.NextRun.After(now) {
			due = append(due, s)
		}
	}

	slices.SortStableFunc(due, func(a, b model.Schedule) int {
		return cmp.Or(cmp.Compare(b.Priority, a.Priority), cmp.Compare(a.ID, b.ID))
	})
	return due, nil
}

// FillMissing computes next_run for enabled schedules that have none.
func (sc *Scheduler) FillMissing(ctx context.Context) error {
	all, err := sc.store.Enabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for i := range all {
		s := &all[i]
		if s.NextRun != nil {
			continue
		}

		next, err := sc.next(*s, sc.clock.Now())
		if err != nil {
			sc.log.Error("cannot compute next run", zap.Uint("schedule_id", s.ID), zap.Error(err))
			continue
		}
		s.NextRun = &next
		if err := sc.store.Save(ctx, s); err != nil {
			return err
		}
		sc.log.Info("filled missing next run",
			zap.Uint("schedule_id", s.ID),
			zap.Time("next_run", next))
	}

	return nil
}

// Run fires due schedules every interval until ctx ends.
func (sc *Scheduler) Run(ctx context.Context) error {
	if err := sc.FillMissing(ctx); err != nil {
		sc.log.Error("failed to fill missing next runs", zap.Error(err))
	}

	sc.log.Info("scheduler started", zap.Duration("interval", sc.interval))

	for {
		if err := sc.Tick(ctx, sc.clock.Now()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			sc.log.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			sc.log.Info("scheduler stopping")
			return nil
		case <-sc.clock.After(sc.interval):
		}
	}
}

// Tick fires every schedule due at now. A device targeted by several due
// schedules is backed up by the highest-priority one only.
func (sc *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := sc.DueSchedules(ctx, now)
	if err != nil {
		return err
	}

	claimed := make(map[uint]uint)
	for _, s := range due {
		ids, err := sc.expand(ctx, s)
		if err != nil {
			sc.log.Error("failed to expand schedule target",
				zap.Uint("schedule_id", s.ID),
				zap.Error(err))
			continue
		}

		batch := make([]uint, 0, len(ids))
		for _, id := range ids {
			if owner, ok := claimed[id]; ok {
				sc.log.Warn("schedule conflict",
					zap.Uint("schedule_id", s.ID),
					zap.Uint("device_id", id),
					zap.Uint("claimed_by", owner))
				continue
			}
			claimed[id] = s.ID
			batch = append(batch, id)
		}

		if err := sc.fire(ctx, s, batch, now); err != nil {
			return err
		}
	}

	return nil
}

func (sc *Scheduler) fire(ctx context.Context, s model.Schedule, ids []uint, now time.Time) error {
	sc.log.Info("firing schedule",
		zap.Uint("schedule_id", s.ID),
		zap.String("name", s.Name),
		zap.Int("devices", len(ids)))

	run := &model.ScheduleRun{Devices: len(ids)}
	if len(ids) > 0 {
		results, err := sc.runner.RunBatch(ctx, ids, sc.opts)
		if err != nil {
			return fmt.Errorf("schedule %d: %w", s.ID, err)
		}
		if ctx.Err() != nil {
			// Left due so it fires again after restart.
			return ctx.Err()
		}

		for _, r := range results {
			switch r.Status {
			case model.BackupCompleted:
				run.Succeeded++
			case model.BackupCancelled:
				run.Cancelled++
			default:
				run.Failed++
			}
		}
	}

	fired := now
	s.LastRun = &fired

	// Occurrences that passed while the batch ran are skipped.
	var next *time.Time
	if n, err := sc.next(s, sc.clock.Now()); err != nil {
		sc.log.Error("schedule has no next run", zap.Uint("schedule_id", s.ID), zap.Error(err))
	} else {
		next = &n
	}

	if err := sc.store.RecordFiring(ctx, s.ID, fired, next, run); err != nil {
		return fmt.Errorf("failed to record firing of schedule %d: %w", s.ID, err)
	}

	sc.log.Info("schedule fired",
		zap.Uint("schedule_id", s.ID),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int("cancelled", run.Cancelled))
	return nil
}

func (sc *Scheduler) expand(ctx context.Context, s model.Schedule) ([]uint, error) {
	switch s.TargetType {
	case model.TargetDevice:
		return []uint{s.TargetID}, nil
	case model.TargetGroup:
		return sc.targets.IDsInGroup(ctx, s.TargetID)
	case model.TargetAll:
		return sc.targets.IDs(ctx)
	default:
		return nil, fmt.Errorf("unknown target type %q", s.TargetType)
	}
}

// next evaluates s from max(now, last run) in the scheduler's zone.
func (sc *Scheduler) next(s model.Schedule, now time.Time) (time.Time, error) {
	ref := now
	if s.LastRun != nil && s.LastRun.After(ref) {
		ref = *s.LastRun
	}
	return nextRun(s, ref.In(sc.loc), sc.rules)
}
