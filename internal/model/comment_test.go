package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommentPatch_Apply(t *testing.T) {
	created := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	c := Comment{ID: "c1", Body: "draft", CreatedAt: created, UpdatedAt: created}

	assert.Equal(t, c, CommentPatch{}.Apply(c))

	body := "final"
	edited := created.Add(time.Minute)
	got := CommentPatch{Body: &body, UpdatedAt: &edited}.Apply(c)
	assert.Equal(t, "final", got.Body)
	assert.Equal(t, edited, got.UpdatedAt)
	assert.Equal(t, created, got.CreatedAt)
}
