package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klassenbuch_go/services/klassenbuch"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Klassenbuch is the part of the Klassenbuch service the background jobs use.
type Klassenbuch interface {
	Refresh(ctx context.Context) error
	Heal() []string
}

// ScheduleManager runs the periodic Klassenbuch jobs
type ScheduleManager struct {
	cron *cron.Cron
	svc  Klassenbuch
}

// NewScheduleManager registers the consistency sweep and the full refresh.
// An empty spec disables that job.
func NewScheduleManager(svc Klassenbuch, consistencySpec, refreshSpec string) (*ScheduleManager, error) {
	sm := &ScheduleManager{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		svc:  svc,
	}
	if consistencySpec != "" {
		if _, err := sm.cron.AddFunc(consistencySpec, sm.CheckConsistency); err != nil {
			return nil, fmt.Errorf("consistency schedule %q: %w", consistencySpec, err)
		}
	}
	if refreshSpec != "" {
		if _, err := sm.cron.AddFunc(refreshSpec, sm.RefreshAll); err != nil {
			return nil, fmt.Errorf("refresh schedule %q: %w", refreshSpec, err)
		}
	}
	return sm, nil
}

// Start starts the schedulers
func (sm *ScheduleManager) Start() {
	sm.cron.Start()
	logrus.WithField("jobs", len(sm.cron.Entries())).Info("Schedule manager started")
}

// Stop waits for running jobs to finish.
func (sm *ScheduleManager) Stop() {
	<-sm.cron.Stop().Done()
	logrus.Info("Schedule manager stopped")
}

// CheckConsistency re-derives every stored counter and logs the records that
// had drifted.
func (sm *ScheduleManager) CheckConsistency() {
	healed := sm.svc.Heal()
	if len(healed) == 0 {
		logrus.Debug("Consistency check passed")
		return
	}
	logrus.WithField("students", healed).Warn("Consistency check healed diverged statistics")
}

// RefreshAll reloads the snapshot from the data source.
func (sm *ScheduleManager) RefreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	err := sm.svc.Refresh(ctx)
	switch {
	case errors.Is(err, klassenbuch.ErrStaleRefresh):
		logrus.Debug("Scheduled refresh superseded by a newer one")
	case errors.Is(err, klassenbuch.ErrRefreshConflict):
		logrus.Warn("Scheduled refresh skipped, statistics kept changing")
	case err != nil:
		logrus.WithError(err).Error("Scheduled refresh failed")
	default:
		logrus.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Scheduled refresh completed")
	}
}
