package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"fb_downloader/internal/domain"
)

const (
	dataPrefix     = "facebook_data_"
	commentsPrefix = "facebook_comments_"
	stampLayout    = "20060102_150405"
)

// Document is the on-disk shape of a posts export.
type Document struct {
	Metadata Metadata            `json:"metadata"`
	User     *domain.UserProfile `json:"user"`
	Posts    []domain.Post       `json:"posts"`
}

type Metadata struct {
	TotalPosts    int       `json:"total_posts"`
	TotalComments int       `json:"total_comments"`
	PartialPosts  int       `json:"partial_posts"`
	GeneratedAt   time.Time `json:"generated_at"`
	UserID        string    `json:"user_id,omitempty"`
}

// CommentsDocument is the flattened comments export.
type CommentsDocument struct {
	Metadata CommentsMetadata `json:"metadata"`
	Comments []Comment        `json:"comments"`
}

type CommentsMetadata struct {
	TotalComments int       `json:"total_comments"`
	TotalPosts    int       `json:"total_posts"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Comment is a comment detached from its post. SourcePost holds the id of
// the post it was made on.
type Comment struct {
	domain.Comment
	SourcePost            string    `json:"source_post"`
	SourcePostMessage     *string   `json:"source_post_message"`
	SourcePostCreatedTime time.Time `json:"source_post_created_time"`
}

// FileInfo describes a written export.
type FileInfo struct {
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	SizeMB   float64 `json:"size_mb"`
}

// Exporter writes JSON documents into a data directory.
type Exporter struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Exporter {
	return &Exporter{
		dir:    dir,
		now:    time.Now,
		logger: logger.With("component", "exporter"),
	}
}

func (e *Exporter) Dir() string {
	return e.dir
}

// ExportPostsWithComments writes user and posts as a nested document and
// returns its path. An empty filename selects a timestamped name.
func (e *Exporter) ExportPostsWithComments(user *domain.UserProfile, posts []domain.Post, filename string) (string, error) {
	now := e.now().UTC()
	if filename == "" {
		filename = dataPrefix + now.Format(stampLayout) + ".json"
	}
	if posts == nil {
		posts = []domain.Post{}
	}

	doc := Document{
		Metadata: Metadata{
			TotalPosts:  len(posts),
			GeneratedAt: now,
		},
		User:  user,
		Posts: posts,
	}
	if user != nil {
		doc.Metadata.UserID = user.ID
	}
	for _, p := range posts {
		doc.Metadata.TotalComments += len(p.Comments)
		if p.CommentsPartial {
			doc.Metadata.PartialPosts++
		}
	}

	path := filepath.Join(e.dir, filename)
	if err := writeJSON(path, doc); err != nil {
		return "", fmt.Errorf("export posts: %w", err)
	}

	e.logger.Info("exported posts",
		"path", path,
		"posts", doc.Metadata.TotalPosts,
		"comments", doc.Metadata.TotalComments,
		"partial_posts", doc.Metadata.PartialPosts,
	)

	return path, nil
}

// ExportCommentsOnly flattens the comments of posts into a single list,
// each linked to its source post, and returns the written path.
func (e *Exporter) ExportCommentsOnly(posts []domain.Post, filename string) (string, error) {
	now := e.now().UTC()
	if filename == "" {
		filename = commentsPrefix + now.Format(stampLayout) + ".json"
	}

	comments := make([]Comment, 0)
	for _, p := range posts {
		for _, c := range p.Comments {
			comments = append(comments, Comment{
				Comment:               c,
				SourcePost:            p.ID,
				SourcePostMessage:     p.Message,
				SourcePostCreatedTime: p.CreatedTime,
			})
		}
	}

	doc := CommentsDocument{
		Metadata: CommentsMetadata{
			TotalComments: len(comments),
			TotalPosts:    len(posts),
			GeneratedAt:   now,
		},
		Comments: comments,
	}

	path := filepath.Join(e.dir, filename)
	if err := writeJSON(path, doc); err != nil {
		return "", fmt.Errorf("export comments: %w", err)
	}

	e.logger.Info("exported comments", "path", path, "comments", len(comments))

	return path, nil
}

// FileInfo stats a written export.
func (e *Exporter) FileInfo(path string) (*FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat export: %w", err)
	}

	return &FileInfo{
		Filename: filepath.Base(path),
		Path:     path,
		Size:     st.Size(),
		SizeMB:   math.Round(float64(st.Size())/(1024*1024)*100) / 100,
	}, nil
}

// ListExports returns the posts exports in the data directory sorted by
// name, which is also chronological order.
func (e *Exporter) ListExports() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(e.dir, dataPrefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// LoadDocument reads a posts export back.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode export %s: %w", filepath.Base(path), err)
	}

	return &doc, nil
}

func writeJSON(path string, v any) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename export: %w", err)
	}

	return nil
}
