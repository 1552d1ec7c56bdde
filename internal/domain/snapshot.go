package domain

import "time"

// Snapshot is one archived download run.
type Snapshot struct {
	ID           int64     `db:"id"`
	UserID       string    `db:"user_id"`
	UserName     string    `db:"user_name"`
	Posts        int       `db:"posts"`
	Comments     int       `db:"comments"`
	PartialPosts int       `db:"partial_posts"`
	ExportPath   string    `db:"export_path"`
	CreatedAt    time.Time `db:"created_at"`
}

// SnapshotEvent announces a completed export.
type SnapshotEvent struct {
	SnapshotID   int64     `json:"snapshot_id,omitempty"`
	UserID       string    `json:"user_id"`
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
	Posts        int       `json:"posts"`
	Comments     int       `json:"comments"`
	PartialPosts int       `json:"partial_posts"`
	GeneratedAt  time.Time `json:"generated_at"`
}
