package daemon

import (
	"context"
	"sync"
	"time"

	"cfgvault/internal/pipeline"
	"cfgvault/internal/scheduler"
	"cfgvault/internal/storage"
	"cfgvault/internal/watcher"

	"go.uber.org/zap"
)

const auditDebounce = 200 * time.Millisecond

// Manager runs the daemon's background loops: the scheduler and the
// artifact audit pipeline. Either may be nil when disabled.
type Manager struct {
	sched   *scheduler.Scheduler
	watcher *watcher.Watcher
	auditor *storage.Auditor
	ignore  []string
	log     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

func NewManager(sched *scheduler.Scheduler, w *watcher.Watcher, auditor *storage.Auditor, ignore []string, log *zap.Logger) *Manager {
	return &Manager{
		sched:   sched,
		watcher: w,
		auditor: auditor,
		ignore:  ignore,
		log:     log,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.started = time.Now()

	if m.sched != nil {
		m.wg.Go(func() {
			if err := m.sched.Run(ctx); err != nil {
				m.log.Error("scheduler stopped", zap.Error(err))
			}
		})
	}

	if m.watcher != nil && m.auditor != nil {
		events := pipeline.Filter(m.watcher.Events(), m.ignore)
		events = pipeline.Debounce(events, auditDebounce)
		events = pipeline.NewChecksumFilter(m.log).Run(events)
		m.wg.Go(func() {
			m.auditor.Run(ctx, events)
		})
		m.log.Info("artifact audit started")
	}
}

// StopAll cancels the background loops and waits for them to return.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if m.watcher != nil {
		m.watcher.Stop()
	}
	m.wg.Wait()

	m.log.Info("background services stopped")
}

func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
