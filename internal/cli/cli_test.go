package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vielheim/crux/internal/api"
	"github.com/Vielheim/crux/internal/cli/client"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/db/dbtest"
	"github.com/Vielheim/crux/internal/events"
	"github.com/Vielheim/crux/internal/queue/queuetest"
	"github.com/Vielheim/crux/internal/storage"
	"github.com/Vielheim/crux/internal/upload"
)

type harness struct {
	store *dbtest.Store
	queue *queuetest.Recorder
	url   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: dbtest.NewStore(), queue: queuetest.NewRecorder()}
	svc := upload.NewService(h.store, storage.NewMemoryStorage(), h.queue, events.NewRecorder(), upload.RetryConfig{MaxAttempts: 1})
	srv := httptest.NewServer(api.NewRouter(&api.Config{Queries: h.store, Uploader: svc}))
	t.Cleanup(srv.Close)
	h.url = srv.URL
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--api-url", h.url}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRootHelp(t *testing.T) {
	var buf bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, sub := range []string{"upload", "status", "requeue", "sweep", "migrate", "users"} {
		assert.Contains(t, buf.String(), sub)
	}
}

func TestAPIURLFromEnvironment(t *testing.T) {
	t.Setenv(envAPIURL, "http://crux.internal:8000")
	cmd := NewRootCmd()
	flag := cmd.PersistentFlags().Lookup("api-url")
	require.NotNil(t, flag)
	assert.Equal(t, "http://crux.internal:8000", flag.DefValue)
}

func TestUsersCreateAndList(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "users", "create", "alex", "alex@crux.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Created user alex")

	out, _, err = h.run(t, "--json", "users", "list")
	require.NoError(t, err)
	var users []client.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alex@crux.com", users[0].Email)

	out, _, err = h.run(t, "users", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "alex")

	_, _, err = h.run(t, "users", "create", "alex", "alex@crux.com")
	assert.ErrorContains(t, err, "username or email already exists")
}

func TestUploadAndStatus(t *testing.T) {
	h := newHarness(t)
	user := h.store.AddUser("alex", "alex@crux.com")
	path := filepath.Join(t.TempDir(), "send.mov")
	require.NoError(t, os.WriteFile(path, []byte("moov"), 0o600))

	out, _, err := h.run(t, "--json", "upload", strconv.FormatInt(user.ID, 10), path)
	require.NoError(t, err)

	var res client.UploadResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "PENDING", res.Status)
	require.Len(t, h.queue.JobsFor(res.ID), 1)

	out, _, err = h.run(t, "status", strconv.FormatInt(res.ID, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, res.VideoURL)

	out, _, err = h.run(t, "--json", "climbs", strconv.FormatInt(user.ID, 10))
	require.NoError(t, err)
	var climbs []client.Climb
	require.NoError(t, json.Unmarshal([]byte(out), &climbs))
	require.Len(t, climbs, 1)
}

func TestStatusWatchCompletes(t *testing.T) {
	h := newHarness(t)
	user := h.store.AddUser("alex", "alex@crux.com")
	c := h.store.PutClimb(db.Climb{
		UserID:          user.ID,
		Status:          db.ClimbStatusCompleted,
		AnalysisResults: json.RawMessage(`{"grade":"V4"}`),
		Attempts:        1,
	})

	out, _, err := h.run(t, "--quiet", "status", strconv.FormatInt(c.ID, 10), "--watch", "--timeout", time.Second.String())
	require.NoError(t, err)
	assert.Empty(t, out)

	out, _, err = h.run(t, "--json", "status", strconv.FormatInt(c.ID, 10), "--watch")
	require.NoError(t, err)
	assert.Contains(t, out, `"grade": "V4"`)
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"status unknown climb", []string{"status", "99"}, "climb 99 not found"},
		{"status bad id", []string{"status", "abc"}, `invalid climb id "abc"`},
		{"upload bad user id", []string{"upload", "zero", "x.mp4"}, `invalid user id "zero"`},
		{"upload missing file", []string{"upload", "1", "/does/not/exist.mp4"}, "cannot read"},
		{"upload unknown user", []string{"upload", "99", "cli_test.go"}, "User not found"},
		{"requeue bad id", []string{"requeue", "0"}, "invalid climb id"},
		{"missing args", []string{"users", "create", "alex"}, "accepts 2 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := h.run(t, tt.args...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	h := newHarness(t)
	_, _, err := h.run(t, "migrate", "up")
	assert.ErrorContains(t, err, "DATABASE_URL is required")
}
