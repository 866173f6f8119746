package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/socius/internal/db"
	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/web"
)

func TestClientAgainstDevServer(t *testing.T) {
	client, seed := newTestClient(t)
	ctx := context.Background()

	tasks, err := client.ListTasks(ctx, model.Filter{AssigneeID: seed.Member.ID})
	require.NoError(t, err)
	require.Len(t, tasks, len(seed.Tasks))

	updated, err := client.UpdateTaskStatus(ctx, seed.Tasks[2].ID, model.StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, updated.Status)

	fetched, err := client.GetTask(ctx, seed.Tasks[2].ID)
	require.NoError(t, err)
	require.Equal(t, updated, fetched)

	team, err := client.GetTeam(ctx, seed.Team.ID)
	require.NoError(t, err)
	require.Equal(t, seed.Leader, team.Leader)

	teams, err := client.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 1)

	created, err := client.CreateTask(ctx, TaskInput{
		Name:       "Sign contract",
		Deadline:   "2032-01-01T00:00:00Z",
		Status:     model.StatusPending,
		AssigneeID: seed.Leader.ID,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, created.Status)

	moved, err := client.UpdateDeadline(ctx, created.ID, "2033-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, "2033-01-01T00:00:00Z", moved.Deadline)

	history, err := client.ListHistory(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestClientReturnsAPIError(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.UpdateTaskStatus(context.Background(), "missing", model.StatusPending)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "not found")
}

func TestClientSendsToken(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	_, err := New(server.URL, WithToken("abc")).ListTasks(context.Background(), model.Filter{})
	require.NoError(t, err)
	require.Equal(t, "Bearer abc", got)
}

func TestEmptyStatusResponseIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`null`))
	}))
	defer server.Close()

	_, err := New(server.URL).UpdateTaskStatus(context.Background(), "a", model.StatusPending)
	require.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"Not allowed"}`, "Not allowed"},
		{`{"message":"token expired"}`, "token expired"},
		{`{"error":{"message":"nested"}}`, "nested"},
		{`{"error":"flat"}`, "flat"},
		{`<html>Bad Gateway</html>`, "<html>Bad Gateway</html>"},
		{``, "502 Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, errorMessage([]byte(tt.body), "502 Bad Gateway"))
		})
	}
}

func TestErrorMessageCutsOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("é", 150)
	got := errorMessage([]byte(body), "fallback")
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 150, utf8.RuneCountInString(got))

	body = "x" + strings.Repeat("日本", 150)
	got = errorMessage([]byte(body), "fallback")
	require.True(t, utf8.ValidString(got))
	require.Equal(t, maxMessageRunes, utf8.RuneCountInString(got))
	require.True(t, strings.HasPrefix(body, got))
}

func TestWithTimeoutLeavesSharedClientAlone(t *testing.T) {
	shared := &http.Client{}
	client := New("http://localhost", WithHTTPClient(shared), WithTimeout(3*time.Second))
	require.Zero(t, shared.Timeout)
	require.Equal(t, 3*time.Second, client.http.Timeout)

	before := http.DefaultClient.Timeout
	New("http://localhost", WithHTTPClient(http.DefaultClient), WithTimeout(time.Second))
	require.Equal(t, before, http.DefaultClient.Timeout)

	require.Equal(t, 15*time.Second, New("http://localhost").http.Timeout)
}

func newTestClient(t *testing.T) (*Client, db.SeedResult) {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store := db.NewStore(conn)
	seed, err := store.Seed(context.Background())
	require.NoError(t, err)

	server := httptest.NewServer(web.NewServer(store).Handler())
	t.Cleanup(server.Close)
	return New(server.URL), seed
}
