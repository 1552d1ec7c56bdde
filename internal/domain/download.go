package domain

import "time"

// DownloadStats holds statistics about a download run.
type DownloadStats struct {
	UserID       string
	UserName     string
	Posts        int
	Comments     int
	PartialPosts int
	// Partials names each truncated post and the error that stopped it.
	Partials    []*PartialFetchError
	Cancelled   bool
	ExportPath  string
	ExportBytes int64
	SnapshotID  int64
	Archived    bool
	Published   bool
	Duration    time.Duration
}

// Exported reports whether the run produced an export file.
func (s *DownloadStats) Exported() bool {
	return s.ExportPath != ""
}
