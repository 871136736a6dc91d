package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docuflow/backend/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sweeper settles subscriptions whose paid period elapsed without a renewal:
// rows flagged cancel-at-period-end become canceled, the rest become expired.
// It runs on a fixed interval; correctness does not depend on sweep timing
// because entitlement reads also check the period end.
type Sweeper struct {
	db       *gorm.DB
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	now func() time.Time
}

// NewSweeper constructs a Sweeper with the given sweep interval.
func NewSweeper(db *gorm.DB, interval time.Duration) *Sweeper {
	return &Sweeper{
		db:       db,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.run()
	log.WithField("interval", s.interval.String()).Info("subscription sweeper started")
}

// Stop signals the loop to exit and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("subscription sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			canceled, expired, errSweep := s.RunOnce(context.Background())
			if errSweep != nil {
				log.WithError(errSweep).Error("subscription sweep failed")
				continue
			}
			if canceled > 0 || expired > 0 {
				log.WithFields(log.Fields{
					"canceled": canceled,
					"expired":  expired,
				}).Info("subscription sweep settled lapsed periods")
			}
		case <-s.stopChan:
			return
		}
	}
}

// RunOnce executes a single sweep and reports how many rows it canceled and
// expired. The lapsed-period predicate is re-checked by the database, so a
// concurrent renewal moving the period end forward is never overwritten.
func (s *Sweeper) RunOnce(ctx context.Context) (canceled int64, expired int64, err error) {
	now := s.now()

	resCancel := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ? AND current_period_end <= ? AND cancel_at_period_end = ?", entitledStatuses, now, true).
		Updates(map[string]any{
			"status":      models.SubscriptionStatusCanceled,
			"canceled_at": now,
			"updated_at":  now,
		})
	if resCancel.Error != nil {
		return 0, 0, fmt.Errorf("billing: sweep canceled rows: %w", resCancel.Error)
	}

	resExpire := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ? AND current_period_end <= ? AND cancel_at_period_end = ?", entitledStatuses, now, false).
		Updates(map[string]any{
			"status":     models.SubscriptionStatusExpired,
			"updated_at": now,
		})
	if resExpire.Error != nil {
		return resCancel.RowsAffected, 0, fmt.Errorf("billing: sweep expired rows: %w", resExpire.Error)
	}

	return resCancel.RowsAffected, resExpire.RowsAffected, nil
}
