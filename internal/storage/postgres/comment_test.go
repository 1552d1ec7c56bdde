package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fb_downloader/internal/domain"
)

func TestDedupeComments(t *testing.T) {
	in := []domain.Comment{
		{ID: "c1", Message: "old"},
		{ID: "c2", Message: "keep"},
		{ID: "c1", Message: "new"},
		{ID: "c3", Message: "last"},
		{ID: "c2", Message: "keep too"},
	}

	got := dedupeComments(in)

	assert.Equal(t, []domain.Comment{
		{ID: "c1", Message: "new"},
		{ID: "c2", Message: "keep too"},
		{ID: "c3", Message: "last"},
	}, got)
	assert.Equal(t, "old", in[0].Message)
}

func TestDedupeComments_Empty(t *testing.T) {
	assert.Empty(t, dedupeComments(nil))
}
