package domain

import (
	"fmt"
	"time"
)

type Post struct {
	ID          string    `json:"id"`
	Message     *string   `json:"message"`
	Story       *string   `json:"story"`
	Type        string    `json:"type"`
	CreatedTime time.Time `json:"created_time"`
	Link        *string   `json:"link"`
	Picture     *string   `json:"picture"`
	Name        *string   `json:"name"`
	Comments    []Comment `json:"comments"`

	// CommentsPartial is set when comment pagination stopped before the
	// provider reported exhaustion; CommentsError carries the reason.
	CommentsPartial bool   `json:"comments_partial,omitempty"`
	CommentsError   string `json:"comments_error,omitempty"`
}

type Comment struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	CreatedTime time.Time `json:"created_time"`
	Author      Author    `json:"author"`
	LikeCount   int       `json:"like_count"`
	Type        string    `json:"type"`
}

type Author struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

const CommentType = "comment"

// PartialFetchError records that a post's comments were truncated.
// It annotates a FetchResult and does not fail the fetch.
type PartialFetchError struct {
	PostID          string
	CommentsFetched int
	Err             error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("comments for post %s truncated after %d: %v", e.PostID, e.CommentsFetched, e.Err)
}

func (e *PartialFetchError) Unwrap() error { return e.Err }

// FetchResult is the assembled post/comment tree of one acquisition run.
type FetchResult struct {
	Posts     []Post
	Partials  []*PartialFetchError
	Cancelled bool
}

// Complete reports whether every post's comments were fully fetched.
func (r *FetchResult) Complete() bool {
	return !r.Cancelled && len(r.Partials) == 0
}

func (r *FetchResult) TotalComments() int {
	n := 0
	for _, p := range r.Posts {
		n += len(p.Comments)
	}
	return n
}
