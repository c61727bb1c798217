package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

// DefaultSyncInterval is used when BILLING_SYNC_INTERVAL is unset.
const DefaultSyncInterval = 6 * time.Hour

// StaleSyncer is the part of billing.Service the manager drives.
type StaleSyncer interface {
	SyncStaleSubscriptions(ctx context.Context, olderThan time.Duration) (*billing.BatchSyncResult, error)
}

// Manager runs the periodic stale-subscription sync in the background
type Manager struct {
	syncer     StaleSyncer
	locker     Locker
	interval   time.Duration
	staleAfter time.Duration
	ticker     *time.Ticker
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

func NewManager(syncer StaleSyncer, locker Locker, interval time.Duration) *Manager {
	return &Manager{
		syncer:     syncer,
		locker:     locker,
		interval:   interval,
		staleAfter: billing.PeriodicStaleAfter,
	}
}

// NewManagerFromEnv reads BILLING_SYNC_INTERVAL. "0" disables the manager.
func NewManagerFromEnv(syncer StaleSyncer, locker Locker) *Manager {
	return NewManager(syncer, locker, env.GetEnvDuration("BILLING_SYNC_INTERVAL", DefaultSyncInterval))
}

// Start launches the sync worker. It is a no-op when already running or when
// the interval is not positive.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	if m.interval <= 0 {
		log.Info("[SyncManager] Periodic sync disabled")
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	m.ticker = time.NewTicker(m.interval)

	m.wg.Add(1)
	go m.syncWorker(m.ticker, m.stopCh)

	log.Infof("[SyncManager] Started (interval: %s, stale after: %s)", m.interval, m.staleAfter)
}

// Stop signals the worker and waits for an in-flight batch to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[SyncManager] Stopping...")
	m.ticker.Stop()
	close(m.stopCh)
	m.stopCh = nil
	m.running = false
	m.wg.Wait()
	log.Info("[SyncManager] Stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) syncWorker(ticker *time.Ticker, stopCh chan struct{}) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				log.Errorf("[SyncManager] Sync run failed: %v", err)
			}
		}
	}
}

// RunOnce runs one stale batch under the shared lock. A nil result with a nil
// error means another instance held the lock.
func (m *Manager) RunOnce(ctx context.Context) (*billing.BatchSyncResult, error) {
	var result *billing.BatchSyncResult
	ran, err := RunExclusive(ctx, m.locker, SyncLockKey, SyncLockTTL, func(ctx context.Context) error {
		var err error
		result, err = m.syncer.SyncStaleSubscriptions(ctx, m.staleAfter)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		log.Info("[SyncManager] Sync already running elsewhere, skipping")
		return nil, nil
	}

	log.Infof("[SyncManager] Run %s synced %d/%d subscriptions (%d errors)",
		result.RunID, result.SyncedCount, result.Total, len(result.Errors))
	return result, nil
}
