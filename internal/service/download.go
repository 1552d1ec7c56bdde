package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"fb_downloader/internal/config"
	"fb_downloader/internal/domain"
	"fb_downloader/internal/graph"
)

// ErrArchiveDisabled is returned by LatestSnapshot when no archive is wired.
var ErrArchiveDisabled = errors.New("snapshot archive disabled")

// Archive groups the stores a completed download is archived into.
type Archive struct {
	Snapshots SnapshotStore
	Posts     PostStore
	Comments  CommentStore
	TxManager TransactionManager
}

type DownloadService struct {
	fetcher   Fetcher
	exporter  Exporter
	archive   *Archive
	publisher Publisher
	logger    *slog.Logger
	config    config.FetchConfig
}

// NewDownloadService wires a download pipeline. archive and publisher are
// optional and may be nil.
func NewDownloadService(
	fetcher Fetcher,
	exporter Exporter,
	archive *Archive,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.FetchConfig,
) *DownloadService {
	return &DownloadService{
		fetcher:   fetcher,
		exporter:  exporter,
		archive:   archive,
		publisher: publisher,
		logger:    logger.With("source", fetcher.ID()),
		config:    cfg,
	}
}

// Download fetches the profile and up to limit posts with their comments,
// writes the export, then archives and announces it when configured.
//
// A cancelled run still writes what was fetched, flagged partial, and
// returns its stats together with the context error. A run whose comment
// paging hit a rejected token does the same with graph.ErrAuthExpired.
// Archive and publish are skipped for both.
func (s *DownloadService) Download(ctx context.Context, limit int) (*domain.DownloadStats, error) {
	startTime := time.Now()
	limit = s.config.ClampLimit(limit)

	s.logger.Info("starting download",
		"source_name", s.fetcher.Name(),
		"limit", limit,
	)

	user, err := s.fetcher.GetUserInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	result, fetchErr := s.fetcher.GetPosts(ctx, limit)
	if fetchErr != nil && (result == nil || !result.Cancelled) {
		return nil, fmt.Errorf("fetch posts: %w", fetchErr)
	}

	stats := &domain.DownloadStats{
		UserID:       user.ID,
		UserName:     user.Name,
		Posts:        len(result.Posts),
		Comments:     result.TotalComments(),
		PartialPosts: len(result.Partials),
		Partials:     result.Partials,
		Cancelled:    result.Cancelled,
	}

	s.logger.Info("fetched posts from source",
		"posts", stats.Posts,
		"comments", stats.Comments,
		"partial_posts", stats.PartialPosts,
	)

	if len(result.Posts) == 0 {
		stats.Duration = time.Since(startTime)
		s.logger.Info("no posts found")
		return stats, fetchErr
	}

	path, err := s.exporter.ExportPostsWithComments(user, result.Posts, "")
	if err != nil {
		stats.Duration = time.Since(startTime)
		return stats, fmt.Errorf("export posts: %w", err)
	}
	stats.ExportPath = path

	if info, err := s.exporter.FileInfo(path); err != nil {
		s.logger.Warn("failed to stat export", "path", path, "error", err)
	} else {
		stats.ExportBytes = info.Size
	}

	if result.Cancelled {
		stats.Duration = time.Since(startTime)
		s.logger.Warn("download cancelled, partial export written",
			"path", path,
			"posts", stats.Posts,
		)
		return stats, fetchErr
	}

	if err := rejectedToken(result.Partials); err != nil {
		stats.Duration = time.Since(startTime)
		s.logger.Warn("access token rejected while fetching comments, partial export written",
			"path", path,
			"partial_posts", stats.PartialPosts,
		)
		return stats, fmt.Errorf("fetch comments: %w", err)
	}

	if s.archive != nil {
		if err := s.archiveSnapshot(ctx, user, result, stats); err != nil {
			stats.Duration = time.Since(startTime)
			return stats, fmt.Errorf("archive snapshot: %w", err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, s.event(stats)); err != nil {
			s.logger.Warn("failed to publish export event", "error", err)
		} else {
			stats.Published = true
		}
	}

	stats.Duration = time.Since(startTime)

	s.logger.Info("download completed",
		"posts", stats.Posts,
		"comments", stats.Comments,
		"partial_posts", stats.PartialPosts,
		"export", stats.ExportPath,
		"bytes", stats.ExportBytes,
		"snapshot_id", stats.SnapshotID,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	return stats, nil
}

// rejectedToken returns the first partial stopped by an expired or revoked
// token. Such a run is exported but neither archived nor published, and the
// caller has to re-authenticate before the next one.
func rejectedToken(partials []*domain.PartialFetchError) error {
	for _, p := range partials {
		if errors.Is(p, graph.ErrAuthExpired) {
			return p
		}
	}
	return nil
}

// LatestSnapshot returns the most recently archived snapshot.
func (s *DownloadService) LatestSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.Snapshots.Latest(ctx)
}

func (s *DownloadService) archiveSnapshot(ctx context.Context, user *domain.UserProfile, result *domain.FetchResult, stats *domain.DownloadStats) error {
	var snapshotID int64

	err := s.archive.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		id, err := s.archive.Snapshots.Save(txCtx, &domain.Snapshot{
			UserID:       user.ID,
			UserName:     user.Name,
			Posts:        stats.Posts,
			Comments:     stats.Comments,
			PartialPosts: stats.PartialPosts,
			ExportPath:   stats.ExportPath,
		})
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		postIDs := make([]int64, 0, len(result.Posts))
		for i := range result.Posts {
			post := &result.Posts[i]

			postID, err := s.archive.Posts.Upsert(txCtx, user.ID, post)
			if err != nil {
				return fmt.Errorf("upsert post %s: %w", post.ID, err)
			}

			if len(post.Comments) > 0 {
				if err := s.archive.Comments.UpsertBatch(txCtx, postID, post.Comments); err != nil {
					return fmt.Errorf("upsert comments of post %s: %w", post.ID, err)
				}
			}

			postIDs = append(postIDs, postID)
		}

		if err := s.archive.Posts.LinkToSnapshot(txCtx, id, postIDs); err != nil {
			return fmt.Errorf("link posts: %w", err)
		}

		snapshotID = id
		return nil
	})
	if err != nil {
		return err
	}

	stats.SnapshotID = snapshotID
	stats.Archived = true
	return nil
}

func (s *DownloadService) event(stats *domain.DownloadStats) *domain.SnapshotEvent {
	return &domain.SnapshotEvent{
		SnapshotID:   stats.SnapshotID,
		UserID:       stats.UserID,
		Filename:     filepath.Base(stats.ExportPath),
		Path:         stats.ExportPath,
		SizeBytes:    stats.ExportBytes,
		Posts:        stats.Posts,
		Comments:     stats.Comments,
		PartialPosts: stats.PartialPosts,
		GeneratedAt:  time.Now().UTC(),
	}
}
