package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"fb_downloader/internal/domain"
	"fb_downloader/internal/export"
)

type Fetcher interface {
	ID() string
	Name() string
	GetUserInfo(ctx context.Context) (*domain.UserProfile, error)
	GetPosts(ctx context.Context, limit int) (*domain.FetchResult, error)
}

type Exporter interface {
	ExportPostsWithComments(user *domain.UserProfile, posts []domain.Post, filename string) (string, error)
	FileInfo(path string) (*export.FileInfo, error)
}

type SnapshotStore interface {
	Save(ctx context.Context, snap *domain.Snapshot) (int64, error)
	Latest(ctx context.Context) (*domain.Snapshot, error)
}

type PostStore interface {
	Upsert(ctx context.Context, userID string, post *domain.Post) (int64, error)
	LinkToSnapshot(ctx context.Context, snapshotID int64, postIDs []int64) error
}

type CommentStore interface {
	UpsertBatch(ctx context.Context, postID int64, comments []domain.Comment) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.SnapshotEvent) error
	Close() error
}
