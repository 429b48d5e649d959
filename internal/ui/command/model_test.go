package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	got, err := Parse("  Status  review ")
	require.NoError(t, err)
	assert.Equal(t, CommandMsg{Name: Status, Args: []string{"review"}}, got)

	got, err = Parse("read-all")
	require.NoError(t, err)
	assert.Equal(t, ReadAll, got.Name)
	assert.Empty(t, got.Args)

	_, err = Parse("status")
	assert.ErrorContains(t, err, "needs <status|any>")

	_, err = Parse("launch")
	assert.ErrorContains(t, err, "unknown command")
}
