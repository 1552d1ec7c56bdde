package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"fb_downloader/internal/domain"
)

// ErrNoSnapshot is returned by Latest when nothing has been archived yet.
var ErrNoSnapshot = errors.New("no snapshot archived")

type SnapshotStore struct {
	db *sqlx.DB
}

func NewSnapshotStore(db *sqlx.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) (int64, error) {
	query := `
		INSERT INTO snapshots (user_id, user_name, posts, comments, partial_posts, export_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		snap.UserID,
		snap.UserName,
		snap.Posts,
		snap.Comments,
		snap.PartialPosts,
		snap.ExportPath,
	).Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		return 0, err
	}

	return snap.ID, nil
}

func (s *SnapshotStore) Latest(ctx context.Context) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	query := `
		SELECT id, user_id, user_name, posts, comments, partial_posts, export_path, created_at
		FROM snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &snap, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
