package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"fb_downloader/internal/domain"
)

type PostStore struct {
	db *sqlx.DB
}

func NewPostStore(db *sqlx.DB) *PostStore {
	return &PostStore{db: db}
}

// Upsert stores the latest content of a post and returns its row id. A post
// seen in several snapshots keeps one row.
func (s *PostStore) Upsert(ctx context.Context, userID string, post *domain.Post) (int64, error) {
	query := `
		INSERT INTO posts (
			user_id, external_id, message, story, type, created_time,
			link, picture, name, comments_partial
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			message = EXCLUDED.message,
			story = EXCLUDED.story,
			type = EXCLUDED.type,
			link = EXCLUDED.link,
			picture = EXCLUDED.picture,
			name = EXCLUDED.name,
			comments_partial = EXCLUDED.comments_partial,
			updated_at = NOW()
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		userID,
		post.ID,
		post.Message,
		post.Story,
		post.Type,
		nullTime(post.CreatedTime),
		post.Link,
		post.Picture,
		post.Name,
		post.CommentsPartial,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// LinkToSnapshot records which posts a snapshot contained.
func (s *PostStore) LinkToSnapshot(ctx context.Context, snapshotID int64, postIDs []int64) error {
	if len(postIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO snapshot_posts (snapshot_id, post_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, snapshotID, pq.Array(postIDs))
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
