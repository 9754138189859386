// Package jobs runs periodic background work on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"closer/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SaleReader refreshes sale supply and price.
type SaleReader interface {
	Sale(ctx context.Context) (*service.SaleInfo, error)
}

// Backuper snapshots the local database.
type Backuper interface {
	Enabled() bool
	PerformBackup() (string, error)
	CleanupOldBackups() int
}

// TxPruner removes resolved transactions from the ledger.
type TxPruner interface {
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScheduleOff disables a job. Config fills empty specs with defaults, so
// this is the only way to turn a job off from a config file.
const ScheduleOff = "off"

// Schedules holds cron specs. A job whose spec is empty or ScheduleOff is
// not registered.
type Schedules struct {
	SaleSnapshot string
	Backup       string
	TxPrune      string
	TxRetention  time.Duration
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron      *cron.Cron
	sale      SaleReader
	backup    Backuper
	pruner    TxPruner
	schedules Schedules
	timeout   time.Duration
	logger    *zerolog.Logger
	now       func() time.Time
}

// NewScheduler builds a UTC scheduler. Any dependency may be nil, which
// skips its job.
func NewScheduler(sale SaleReader, backup Backuper, pruner TxPruner, schedules Schedules, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if schedules.TxRetention <= 0 {
		schedules.TxRetention = 30 * 24 * time.Hour
	}
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		sale:      sale,
		backup:    backup,
		pruner:    pruner,
		schedules: schedules,
		timeout:   30 * time.Second,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers all configured jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.sale != nil && scheduled(s.schedules.SaleSnapshot) {
		if _, err := s.cron.AddFunc(s.schedules.SaleSnapshot, func() { s.SaleSnapshot(ctx) }); err != nil {
			return fmt.Errorf("schedule sale snapshot: %w", err)
		}
	}
	if s.backup != nil && s.backup.Enabled() && scheduled(s.schedules.Backup) {
		if _, err := s.cron.AddFunc(s.schedules.Backup, s.Backup); err != nil {
			return fmt.Errorf("schedule backup: %w", err)
		}
	}
	if s.pruner != nil && scheduled(s.schedules.TxPrune) {
		if _, err := s.cron.AddFunc(s.schedules.TxPrune, func() { s.PruneTransactions(ctx) }); err != nil {
			return fmt.Errorf("schedule tx prune: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
	return nil
}

func scheduled(spec string) bool {
	spec = strings.TrimSpace(spec)
	return spec != "" && !strings.EqualFold(spec, ScheduleOff)
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// SaleSnapshot reads the sale state; the service updates the price gauges.
func (s *Scheduler) SaleSnapshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	info, err := s.sale.Sale(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sale snapshot failed")
		return
	}
	s.logger.Debug().
		Str("supply", info.TotalSupply.String()).
		Str("unit_price", info.UnitPrice.String()).
		Str("remaining", info.Remaining.String()).
		Msg("sale snapshot")
}

// Backup performs one backup followed by retention cleanup.
func (s *Scheduler) Backup() {
	path, err := s.backup.PerformBackup()
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled backup failed")
		return
	}
	removed := s.backup.CleanupOldBackups()
	s.logger.Info().Str("path", path).Int("removed", removed).Msg("scheduled backup done")
}

// PruneTransactions drops resolved transactions past retention.
func (s *Scheduler) PruneTransactions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.pruner.DeleteResolvedBefore(ctx, s.now().Add(-s.schedules.TxRetention))
	if err != nil {
		s.logger.Error().Err(err).Msg("prune transactions failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("removed", n).Msg("pruned resolved transactions")
	}
}
