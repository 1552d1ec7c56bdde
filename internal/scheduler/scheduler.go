package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fb_downloader/internal/domain"
)

// Downloader takes one full snapshot of the operator's posts.
type Downloader interface {
	Download(ctx context.Context, limit int) (*domain.DownloadStats, error)
}

// Scheduler takes a fresh, independent snapshot on every tick.
type Scheduler struct {
	downloader Downloader
	interval   time.Duration
	limit      int
	runTimeout time.Duration
	stopOn     []error
	logger     *slog.Logger
}

func NewScheduler(downloader Downloader, interval time.Duration, limit int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		downloader: downloader,
		interval:   interval,
		limit:      limit,
		runTimeout: interval,
		logger:     logger.With("component", "scheduler"),
	}
}

// StopOn makes Start return when a run fails with any of errs.
func (s *Scheduler) StopOn(errs ...error) *Scheduler {
	s.stopOn = append(s.stopOn, errs...)
	return s
}

// Start runs a snapshot immediately and then once per interval until ctx is
// cancelled. A run never overlaps the next one. Other failures are logged
// and the next tick retries.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "limit", s.limit)

	if err := s.runOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	stats, err := s.downloader.Download(runCtx, s.limit)
	switch {
	case err == nil:
		s.logger.Info("snapshot taken",
			"posts", stats.Posts,
			"comments", stats.Comments,
			"partial_posts", stats.PartialPosts,
			"export", stats.ExportPath,
		)
	case s.fatal(err):
		s.logger.Error("snapshot failed, stopping", "error", err)
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.logger.Error("snapshot failed", "error", err)
	}
	return nil
}

func (s *Scheduler) fatal(err error) bool {
	for _, target := range s.stopOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
