package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/portal/internal/config"
)

const (
	DefaultAnonymizeAfter = 90 * 24 * time.Hour
	DefaultDeleteAfter    = 365 * 24 * time.Hour
	DefaultSweepInterval  = 24 * time.Hour
)

// RetentionSweeper anonymizes and purges old audit entries. error and
// critical entries are never purged.
type RetentionSweeper struct {
	repo           Repository
	log            *zap.Logger
	interval       time.Duration
	anonymizeAfter time.Duration
	deleteAfter    time.Duration
	now            func() time.Time
}

func NewRetentionSweeper(repo Repository, cfg config.AuditConfig, log *zap.Logger) *RetentionSweeper {
	s := &RetentionSweeper{
		repo:           repo,
		log:            log.Named("audit_retention"),
		interval:       cfg.SweepInterval,
		anonymizeAfter: cfg.AnonymizeAfter,
		deleteAfter:    cfg.DeleteAfter,
		now:            time.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.anonymizeAfter <= 0 {
		s.anonymizeAfter = DefaultAnonymizeAfter
	}
	if s.deleteAfter <= 0 {
		s.deleteAfter = DefaultDeleteAfter
	}
	return s
}

type SweepResult struct {
	Anonymized int64
	Purged     int64
}

func (s *RetentionSweeper) Interval() time.Duration {
	return s.interval
}

func (s *RetentionSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var result SweepResult

	anonymized, err := s.repo.Anonymize(ctx, now.Add(-s.anonymizeAfter))
	if err != nil {
		return result, err
	}
	result.Anonymized = anonymized

	purged, err := s.repo.Purge(ctx, now.Add(-s.deleteAfter))
	if err != nil {
		return result, err
	}
	result.Purged = purged

	return result, nil
}

// Run sweeps once and logs the outcome. It matches worker.Func.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	result, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	if result.Anonymized > 0 || result.Purged > 0 {
		s.log.Info("audit retention sweep",
			zap.Int64("anonymized", result.Anonymized),
			zap.Int64("purged", result.Purged))
	}
	return nil
}
