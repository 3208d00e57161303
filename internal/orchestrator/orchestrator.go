// Package orchestrator runs device backup jobs: bounded, single-flight per
// device, retried, and always reported as one result per device.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"cfgvault/internal/model"
	"cfgvault/internal/profile"
	"cfgvault/internal/storage"
	"cfgvault/internal/transport"
	"cfgvault/internal/tunnel"
	"cfgvault/internal/verify"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var ErrEmptyConfig = errors.New("device returned an empty configuration")

type Connector interface {
	Open(ctx context.Context, p profile.Profile, observe func(tunnel.Stage)) (tunnel.Session, error)
}

type DeviceStore interface {
	Get(ctx context.Context, id uint) (model.Device, error)
}

type BackupStore interface {
	LatestChecksum(ctx context.Context, deviceID uint) (string, error)
	Create(ctx context.Context, b *model.Backup) error
	DeleteByPaths(ctx context.Context, paths []string) error
}

type ArtifactStore interface {
	Save(ctx context.Context, device model.Device, content []byte, at time.Time) (storage.Artifact, error)
}

type Orchestrator struct {
	devices        DeviceStore
	backups        BackupStore
	artifacts      ArtifactStore
	connector      Connector
	verifier       *verify.Engine
	storeUnchanged bool
	clock          clock.Clock
	log            *zap.Logger

	flight singleflight.Group
	// limit caps jobs across all batches; nil means only the per-batch
	// bound applies.
	limit *semaphore.Weighted

	mu       sync.RWMutex
	jobs     map[uint]*jobState
	profiles map[uint]cachedProfile
}

type cachedProfile struct {
	raw     profile.RawFields
	profile profile.Profile
}

type Deps struct {
	Devices   DeviceStore
	Backups   BackupStore
	Artifacts ArtifactStore
	Connector Connector
	Verifier  *verify.Engine
	// StoreUnchanged writes an artifact even when the checksum matches the
	// previous backup.
	StoreUnchanged bool
	// MaxConcurrency bounds connected jobs across concurrent batches.
	// Zero leaves only the per-batch bound.
	MaxConcurrency int
	Clock          clock.Clock
}

func New(deps Deps, log *zap.Logger) *Orchestrator {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var limit *semaphore.Weighted
	if deps.MaxConcurrency > 0 {
		limit = semaphore.NewWeighted(int64(deps.MaxConcurrency))
	}

	return &Orchestrator{
		devices:        deps.Devices,
		backups:        deps.Backups,
		artifacts:      deps.Artifacts,
		connector:      deps.Connector,
		verifier:       deps.Verifier,
		storeUnchanged: deps.StoreUnchanged,
		clock:          clk,
		log:            log,
		limit:          limit,
		jobs:           make(map[uint]*jobState),
		profiles:       make(map[uint]cachedProfile),
	}
}

// RunBatch backs up every distinct device in ids and returns one result per
// device in first-submission order. Only invalid options produce an error.
func (o *Orchestrator) RunBatch(ctx context.Context, ids []uint, opts Options) ([]model.BackupResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backup options: %w", err)
	}

	unique := dedupe(ids)
	results := make([]model.BackupResult, len(unique))
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrency))

	o.log.Info("starting backup batch",
		zap.Int("devices", len(unique)),
		zap.Int("max_concurrency", opts.MaxConcurrency),
		zap.Int("retries", opts.Retries),
	)

	var wg sync.WaitGroup
	for i, id := range unique {
		wg.Go(func() {
			results[i] = o.submit(ctx, id, sem, opts)
		})
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	o.log.Info("backup batch finished",
		zap.Int("devices", len(results)),
		zap.Int("succeeded", succeeded),
	)

	return results, nil
}

// Snapshots returns the state of every job currently in flight.
func (o *Orchestrator) Snapshots() []model.JobSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]model.JobSnapshot, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.Snapshot())
	}
	slices.SortFunc(out, func(a, b model.JobSnapshot) int {
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})
	return out
}

// Forget drops the cached connection profile of a device.
func (o *Orchestrator) Forget(deviceID uint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.profiles, deviceID)
}

func (o *Orchestrator) submit(ctx context.Context, id uint, sem *semaphore.Weighted, opts Options) model.BackupResult {
	ch := o.flight.DoChan(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		return o.runJob(ctx, id, sem, opts), nil
	})

	select {
	case r := <-ch:
		res := r.Val.(model.BackupResult)
		if r.Shared {
			o.log.Debug("joined in-flight backup", zap.Uint("device_id", id))
		}
		return res
	case <-ctx.Done():
		return o.cancelled(ctx, id)
	}
}

// cancelled builds the result of a job abandoned before it could report,
// still naming the device.
func (o *Orchestrator) cancelled(ctx context.Context, id uint) model.BackupResult {
	res := model.BackupResult{
		DeviceID:  id,
		Status:    model.BackupCancelled,
		Message:   "cancelled",
		Timestamp: o.clock.Now().UTC(),
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if d, err := o.devices.Get(lctx, id); err == nil {
		res.DeviceName = d.Name
	}
	return res
}

type outcome struct {
	artifact storage.Artifact
	verify   verify.Result
}

func (o *Orchestrator) runJob(ctx context.Context, id uint, sem *semaphore.Weighted, opts Options) (res model.BackupResult) {
	job := o.track(id)
	defer o.untrack(id)

	res = model.BackupResult{DeviceID: id}
	var device *model.Device

	// singleflight re-panics in its own goroutine, so recover here.
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("backup job panicked",
				zap.Uint("device_id", id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = o.finish(ctx, job, device, res, model.BackupFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	d, err := o.devices.Get(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			job.set(model.JobCancelled)
			return o.cancelled(ctx, id)
		}
		return o.finish(ctx, job, nil, res, model.BackupFailed, fmt.Sprintf("failed to load device: %v", err))
	}
	device = &d
	res.DeviceName = d.Name
	job.setName(d.Name)

	p, err := o.profileFor(d)
	if err != nil {
		o.log.Warn("skipping device with invalid connection profile",
			zap.String("device", d.Name),
			zap.Uint("device_id", id),
			zap.Error(err),
		)
		return o.finish(ctx, job, device, res, model.BackupFailed, err.Error())
	}

	proto, cmds, err := transport.Select(p, d.DeviceType)
	if err != nil {
		o.log.Warn("skipping device", zap.String("device", d.Name), zap.Uint("device_id", id), zap.Error(err))
		return o.finish(ctx, job, device, res, model.BackupFailed, err.Error())
	}
	res.Protocol = string(proto)

	if err := sem.Acquire(ctx, 1); err != nil {
		return o.finish(ctx, job, device, res, model.BackupCancelled, "cancelled")
	}
	defer sem.Release(1)

	if o.limit != nil {
		if err := o.limit.Acquire(ctx, 1); err != nil {
			return o.finish(ctx, job, device, res, model.BackupCancelled, "cancelled")
		}
		defer o.limit.Release(1)
	}

	var out outcome
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			res.Attempts++
			job.setAttempt(res.Attempts)

			var err error
			out, err = o.attempt(ctx, job, d, p, cmds, opts)
			return err
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil || fatal(err)
		},
		NotifyFunc: func(err error, attempt int) {
			hop, _ := tunnel.HopOf(err)
			o.log.Warn("backup attempt failed",
				zap.String("device", d.Name),
				zap.Uint("device_id", id),
				zap.String("hop", string(hop)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
		Attempts:    opts.Retries + 1,
		Delay:       opts.RetryDelay,
		BackoffFunc: opts.backoff(),
		Clock:       o.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return o.finish(ctx, job, device, res, model.BackupCancelled, "cancelled")
		}
		err = retry.LastError(err)
		hop, _ := tunnel.HopOf(err)
		o.log.Error("backup failed",
			zap.String("device", d.Name),
			zap.Uint("device_id", id),
			zap.String("hop", string(hop)),
			zap.Int("attempt", res.Attempts),
			zap.Error(err),
		)
		return o.finish(ctx, job, device, res, model.BackupFailed, err.Error())
	}

	res.ArtifactPath = out.artifact.Path
	res.Size = out.verify.Size
	res.Checksum = out.verify.Checksum
	res.Verification = out.verify.Status
	res.Unchanged = out.verify.Unchanged
	return o.finish(ctx, job, device, res, model.BackupCompleted, out.verify.Message)
}

func (o *Orchestrator) attempt(ctx context.Context, job *jobState, d model.Device, p profile.Profile, cmds transport.CommandSet, opts Options) (outcome, error) {
	actx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
	defer cancel()

	job.set(model.JobConnecting)
	sess, err := o.connector.Open(actx, p, func(st tunnel.Stage) {
		switch st {
		case tunnel.StageConnecting:
			job.set(model.JobConnecting)
		case tunnel.StageAuthenticating:
			job.set(model.JobAuthenticating)
		}
	})
	if err != nil {
		return outcome{}, err
	}
	defer func(sess tunnel.Session) { _ = sess.Close() }(sess)

	job.set(model.JobExecuting)
	for _, c := range cmds.DisablePaging {
		if _, err := sess.Run(actx, c); err != nil {
			return outcome{}, fmt.Errorf("failed to run %q: %w", c, err)
		}
	}
	text, err := sess.Run(actx, cmds.ShowConfig)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to run %q: %w", cmds.ShowConfig, err)
	}
	if strings.TrimSpace(text) == "" {
		return outcome{}, ErrEmptyConfig
	}
	content := []byte(text)

	job.set(model.JobTransferring)
	prev, err := o.backups.LatestChecksum(actx, d.ID)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to read previous checksum: %w", err)
	}

	var out outcome
	unchanged := prev != "" && verify.Checksum(content) == prev
	if !unchanged || o.storeUnchanged {
		out.artifact, err = o.artifacts.Save(actx, d, content, o.clock.Now())
		if err != nil {
			return outcome{}, err
		}
		if len(out.artifact.Pruned) > 0 {
			if err := o.backups.DeleteByPaths(actx, out.artifact.Pruned); err != nil {
				o.log.Warn("failed to drop pruned backup rows", zap.String("device", d.Name), zap.Error(err))
			}
		}
	}

	job.set(model.JobVerifying)
	out.verify = o.verifier.Verify(content, prev, d.DeviceType)
	if out.verify.Status == model.VerificationFailed {
		o.log.Warn("configuration failed verification",
			zap.String("device", d.Name),
			zap.Uint("device_id", d.ID),
			zap.String("message", out.verify.Message),
		)
	}

	return out, nil
}

// finish records the terminal state, persists the outcome and returns the
// completed result.
func (o *Orchestrator) finish(ctx context.Context, job *jobState, d *model.Device, res model.BackupResult, status model.BackupStatus, msg string) model.BackupResult {
	res.Status = status
	res.Success = status == model.BackupCompleted
	res.Message = msg
	res.Timestamp = o.clock.Now().UTC()

	switch status {
	case model.BackupCompleted:
		job.set(model.JobCompleted)
	case model.BackupCancelled:
		job.set(model.JobCancelled)
	default:
		job.set(model.JobFailed)
	}

	if d == nil {
		return res
	}

	row := &model.Backup{
		DeviceID:           d.ID,
		DeviceName:         d.Name,
		Protocol:           res.Protocol,
		FilePath:           res.ArtifactPath,
		FileSize:           res.Size,
		Checksum:           res.Checksum,
		VerificationStatus: res.Verification,
		Status:             status,
		Message:            msg,
		Attempts:           res.Attempts,
		CreatedAt:          res.Timestamp,
	}

	// The batch context may already be done; the row is still written.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.backups.Create(sctx, row); err != nil {
		o.log.Error("failed to record backup", zap.String("device", d.Name), zap.Error(err))
	}

	return res
}

func (o *Orchestrator) profileFor(d model.Device) (profile.Profile, error) {
	raw := profile.FromDevice(d)

	o.mu.RLock()
	c, ok := o.profiles[d.ID]
	o.mu.RUnlock()
	if ok && c.raw == raw {
		return c.profile, nil
	}

	p, err := profile.Resolve(raw)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		delete(o.profiles, d.ID)
		return profile.Profile{}, err
	}
	o.profiles[d.ID] = cachedProfile{raw: raw, profile: p}
	return p, nil
}

func (o *Orchestrator) track(id uint) *jobState {
	j := newJobState(id)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs[id] = j
	return j
}

func (o *Orchestrator) untrack(id uint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.jobs, id)
}

func fatal(err error) bool {
	if _, ok := errors.AsType[*profile.ValidationError](err); ok {
		return true
	}
	if _, ok := errors.AsType[*transport.UnsupportedDeviceTypeError](err); ok {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
