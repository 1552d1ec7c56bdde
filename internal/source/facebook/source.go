package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fb_downloader/internal/domain"
	"fb_downloader/internal/graph"
)

const (
	SourceID   = "facebook"
	SourceName = "Facebook Graph API"

	timeLayout = "2006-01-02T15:04:05-0700"

	DefaultProfileFields = "id,name,email,picture"
	DefaultPostFields    = "id,message,story,status_type,created_time,permalink_url,full_picture"
	DefaultCommentFields = "id,message,created_time,from,like_count"
)

// Config holds Facebook source configuration.
type Config struct {
	PostsPageSize    int
	CommentsPageSize int
	CommentWorkers   int
	PostFields       string
	CommentFields    string
}

// ProgressFunc is called each time a post's comment collection finishes.
// With more than one comment worker it may be called concurrently.
type ProgressFunc func(done, total int)

// Source assembles the operator's posts and their comments through a
// Graph session.
type Source struct {
	caller   graph.Caller
	cfg      Config
	progress ProgressFunc
	logger   *slog.Logger
}

// New creates a new Facebook source reading through caller.
func New(caller graph.Caller, cfg Config, logger *slog.Logger) *Source {
	if cfg.PostFields == "" {
		cfg.PostFields = DefaultPostFields
	}
	if cfg.CommentFields == "" {
		cfg.CommentFields = DefaultCommentFields
	}
	if cfg.CommentWorkers < 1 {
		cfg.CommentWorkers = 1
	}
	return &Source{
		caller: caller,
		cfg:    cfg,
		logger: logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// SetProgress installs a progress callback for subsequent GetPosts calls.
func (s *Source) SetProgress(fn ProgressFunc) {
	s.progress = fn
}

// GetUserInfo fetches the authenticated user's profile.
func (s *Source) GetUserInfo(ctx context.Context) (*domain.UserProfile, error) {
	raw, err := s.caller.Call(ctx, "me", url.Values{"fields": {DefaultProfileFields}})
	if err != nil {
		return nil, err
	}

	var p apiProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}

	profile := &domain.UserProfile{
		ID:    p.ID,
		Name:  p.Name,
		Email: p.Email,
	}
	if p.Picture != nil && p.Picture.Data.URL != "" {
		profile.PictureURL = &p.Picture.Data.URL
	}

	return profile, nil
}

// GetPosts fetches at most limit posts, newest first as the provider orders
// them, each with its full comment thread.
//
// A failure while paging posts fails the call. A failure while paging one
// post's comments truncates only that post, which is flagged and recorded
// in FetchResult.Partials. Cancellation of ctx is observed between pages;
// requests already in flight finish on their own timeout. On cancellation
// the partial result is returned together with ctx.Err().
func (s *Source) GetPosts(ctx context.Context, limit int) (*domain.FetchResult, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}

	callCtx := context.WithoutCancel(ctx)

	posts, err := s.fetchPosts(ctx, callCtx, limit)
	if err != nil {
		return nil, err
	}

	result := &domain.FetchResult{Posts: posts}

	if ctx.Err() != nil {
		for i := range result.Posts {
			s.markPartial(result, i, ctx.Err())
		}
		result.Cancelled = true
		return result, ctx.Err()
	}

	s.fetchAllComments(ctx, callCtx, result)

	s.logger.Info("fetched posts",
		"posts", len(result.Posts),
		"comments", result.TotalComments(),
		"partial", len(result.Partials),
		"cancelled", result.Cancelled,
	)

	if result.Cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

func (s *Source) fetchPosts(ctx, callCtx context.Context, limit int) ([]domain.Post, error) {
	pager := graph.NewPager[apiPost](s.caller, "me/posts", url.Values{"fields": {s.cfg.PostFields}})
	posts := make([]domain.Post, 0, limit)

	for len(posts) < limit && pager.More() {
		if ctx.Err() != nil {
			break
		}

		if s.cfg.PostsPageSize > 0 {
			pager.SetPageSize(min(s.cfg.PostsPageSize, limit-len(posts)))
		}

		page, err := pager.Next(callCtx)
		if err != nil {
			return nil, fmt.Errorf("posts page %d: %w", pager.Pages()+1, err)
		}

		for _, ap := range page {
			if len(posts) == limit {
				break
			}
			posts = append(posts, s.transformPost(ap))
		}

		s.logger.Debug("fetched posts page",
			"page", pager.Pages(),
			"items", len(page),
			"total", len(posts),
		)
	}

	return posts, nil
}

func (s *Source) fetchAllComments(ctx, callCtx context.Context, result *domain.FetchResult) {
	total := len(result.Posts)
	errs := make([]error, total)

	var done atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.CommentWorkers)

	for i := range result.Posts {
		g.Go(func() error {
			post := &result.Posts[i]
			post.Comments, errs[i] = s.fetchComments(ctx, callCtx, post.ID)

			if s.progress != nil {
				s.progress(int(done.Add(1)), total)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		s.markPartial(result, i, err)
		if ctx.Err() != nil && err == ctx.Err() {
			result.Cancelled = true
		}
	}
}

func (s *Source) fetchComments(ctx, callCtx context.Context, postID string) ([]domain.Comment, error) {
	pager := graph.NewPager[apiComment](s.caller, postID+"/comments", url.Values{"fields": {s.cfg.CommentFields}})
	pager.SetPageSize(s.cfg.CommentsPageSize)

	comments := make([]domain.Comment, 0)
	for pager.More() {
		if err := ctx.Err(); err != nil {
			return comments, err
		}

		page, err := pager.Next(callCtx)
		if err != nil {
			s.logger.Warn("comment pagination failed",
				"post_id", postID,
				"page", pager.Pages()+1,
				"fetched", len(comments),
				"error", err,
			)
			return comments, err
		}

		for _, ac := range page {
			comments = append(comments, s.transformComment(ac))
		}
	}

	return comments, nil
}

func (s *Source) markPartial(result *domain.FetchResult, i int, err error) {
	post := &result.Posts[i]
	if post.Comments == nil {
		post.Comments = make([]domain.Comment, 0)
	}
	post.CommentsPartial = true
	post.CommentsError = err.Error()
	result.Partials = append(result.Partials, &domain.PartialFetchError{
		PostID:          post.ID,
		CommentsFetched: len(post.Comments),
		Err:             err,
	})
}

func (s *Source) transformPost(ap apiPost) domain.Post {
	post := domain.Post{
		ID:          ap.ID,
		Message:     ap.Message,
		Story:       ap.Story,
		Type:        firstNonEmpty(ap.Type, ap.StatusType, "status"),
		CreatedTime: s.parseTime(ap.CreatedTime, "post_id", ap.ID),
		Link:        firstSet(ap.Link, ap.PermalinkURL),
		Picture:     firstSet(ap.FullPicture, ap.Picture),
		Name:        ap.Name,
		Comments:    make([]domain.Comment, 0),
	}
	return post
}

func (s *Source) transformComment(ac apiComment) domain.Comment {
	c := domain.Comment{
		ID:          ac.ID,
		Message:     ac.Message,
		CreatedTime: s.parseTime(ac.CreatedTime, "comment_id", ac.ID),
		LikeCount:   max(ac.LikeCount, 0),
		Type:        domain.CommentType,
	}
	if ac.From != nil {
		c.Author = domain.Author{Name: ac.From.Name, ID: ac.From.ID}
	}
	return c
}

func (s *Source) parseTime(v, key, id string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, err = time.Parse(time.RFC3339, v)
	}
	if err != nil {
		s.logger.Warn("failed to parse created_time", key, id, "value", v)
		return time.Time{}
	}
	return t.UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSet(vals ...*string) *string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
