package commentform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/portal/internal/model"
)

func TestStartEditLoadsComment(t *testing.T) {
	m := New(80, 24)
	m.StartEdit(model.Comment{ID: "c1", TaskID: "t1", Body: "draft"})

	assert.True(t, m.Editing())
	assert.Equal(t, "draft", m.fb.body)
	assert.Contains(t, m.View(), "Edit Comment")

	m.StartCompose("t2")
	assert.False(t, m.Editing())
	assert.Empty(t, m.fb.body)
	assert.Equal(t, "t2", m.taskID)
}

func TestValidateRequired(t *testing.T) {
	v := validateRequired("Comment")
	assert.Error(t, v("   \n"))
	assert.NoError(t, v("ok"))
}
