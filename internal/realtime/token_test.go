package realtime

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
)

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens([]byte("secret"))

	raw, err := tokens.Issue("e1", time.Hour)
	require.NoError(t, err)

	subject, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "e1", subject)
}

func TestTokens_RejectsExpiredAndForeign(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return now }

	raw, err := tokens.Issue("e1", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tokens.Verify(raw)
	assert.True(t, IsUnauthorized(err))

	other := NewTokens([]byte("other"))
	foreign, err := other.Issue("e1", time.Hour)
	require.NoError(t, err)
	_, err = NewTokens([]byte("secret")).Verify(foreign)
	assert.True(t, IsUnauthorized(err))

	_, err = tokens.Verify("not-a-token")
	assert.True(t, IsUnauthorized(err))
}

func TestTokens_IssueRequiresSubject(t *testing.T) {
	_, err := NewTokens([]byte("secret")).Issue("", time.Hour)
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	assert.NoError(t, Authorize("e1", live.Filter{Table: model.TableNotifications, SubjectID: "e1"}))
	assert.True(t, IsUnauthorized(Authorize("e1", live.Filter{Table: model.TableNotifications, SubjectID: "e2"})))
	assert.NoError(t, Authorize("e1", live.Filter{Table: model.TableComments, SubjectID: "task-9"}))
	assert.True(t, IsUnauthorized(Authorize("e1", live.Filter{Table: "salaries", SubjectID: "e1"})))
	assert.True(t, IsUnauthorized(Authorize("e1", live.Filter{Table: model.TableComments})))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/realtime", nil)
	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", BearerToken(r))

	r = httptest.NewRequest("GET", "/realtime?access_token=xyz", nil)
	assert.Equal(t, "xyz", BearerToken(r))

	r = httptest.NewRequest("GET", "/realtime", nil)
	assert.Empty(t, BearerToken(r))
}
