package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"fb_downloader/internal/domain"
)

// commentBatchSize keeps a single INSERT well under the 65535 bind
// parameter limit.
const commentBatchSize = 1000

type CommentStore struct {
	db *sqlx.DB
}

func NewCommentStore(db *sqlx.DB) *CommentStore {
	return &CommentStore{db: db}
}

// UpsertBatch stores the comments of one post row. Repeated IDs collapse
// to their last value, since one INSERT cannot touch a row twice.
func (s *CommentStore) UpsertBatch(ctx context.Context, postID int64, comments []domain.Comment) error {
	comments = dedupeComments(comments)
	for start := 0; start < len(comments); start += commentBatchSize {
		end := min(start+commentBatchSize, len(comments))
		if err := s.upsertChunk(ctx, postID, comments[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *CommentStore) upsertChunk(ctx context.Context, postID int64, comments []domain.Comment) error {
	const cols = 7

	var sb strings.Builder
	sb.WriteString("INSERT INTO comments (post_id, external_id, message, created_time, author_name, author_id, like_count) VALUES ")
	valueArgs := make([]any, 0, len(comments)*cols)

	for i, c := range comments {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 1; j <= cols; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*cols + j))
		}
		sb.WriteString(")")
		valueArgs = append(valueArgs,
			postID,
			c.ID,
			c.Message,
			nullTime(c.CreatedTime),
			c.Author.Name,
			c.Author.ID,
			c.LikeCount,
		)
	}
	sb.WriteString(` ON CONFLICT (post_id, external_id) DO UPDATE SET
		message = EXCLUDED.message,
		like_count = EXCLUDED.like_count`)

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

// dedupeComments keeps the first position of each ID and the last value
// seen for it.
func dedupeComments(comments []domain.Comment) []domain.Comment {
	index := make(map[string]int, len(comments))
	out := make([]domain.Comment, 0, len(comments))
	for _, c := range comments {
		if i, ok := index[c.ID]; ok {
			out[i] = c
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}
