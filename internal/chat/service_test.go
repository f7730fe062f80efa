package chat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/pipeline-platform/internal/db/dbtest"
	"pgregory.net/rapid"
)

func newTestService(t *testing.T) (*Service, *Repo) {
	t.Helper()
	db := dbtest.Open(t, Models()...)
	repo := NewRepo(db)
	return NewService(repo, t.TempDir(), zerolog.Nop()), repo
}

func TestChannelIDRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := NewID()
		ch := ChannelIDFor(id)
		if strings.Contains(ch, "-") {
			t.Fatalf("channel id %q still contains a dash", ch)
		}
		if got := SessionIDFromChannel(ch); got != id {
			t.Fatalf("round trip: got %q want %q", got, id)
		}
	})
}

func TestChannelIDRoundTrip_ArbitraryDashedIDs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[a-z0-9]{1,8}(-[a-z0-9]{1,8}){0,4}`).Draw(t, "id")
		if got := SessionIDFromChannel(ChannelIDFor(id)); got != id {
			t.Fatalf("round trip: got %q want %q", got, id)
		}
	})
}

func TestCreateAndListSessions_HidesOtherOwners(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mine, err := svc.CreateSession(ctx, 1)
	require.NoError(t, err)
	_, err = svc.CreateSession(ctx, 2)
	require.NoError(t, err)

	list, err := svc.ListSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	_, err = svc.GetSession(ctx, 2, mine.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRenameSession(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, svc.RenameSession(ctx, 1, s.ID, "  Weekly notes "))

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly notes", got.TitleOrEmpty())

	assert.ErrorIs(t, svc.RenameSession(ctx, 9, s.ID, "x"), ErrSessionNotFound)
}

func TestListMessages_OldestFirst(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, 1)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		m := &Message{SessionID: s.ID, Pipeline: "echo", Kind: KindRequest, Selected: true}
		m.Set("prompt", text)
		require.NoError(t, repo.InsertMessage(ctx, m))
	}

	msgs, err := repo.ListMessages(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text("prompt"))
	assert.Equal(t, "three", msgs[2].Text("prompt"))
	assert.Equal(t, RendererMarkdown, msgs[0].Renderer)
}

func TestSetMessageFlag(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, 1)
	require.NoError(t, err)

	m := &Message{SessionID: s.ID, Pipeline: "echo", Kind: KindRequest, Selected: true}
	require.NoError(t, repo.InsertMessage(ctx, m))

	require.NoError(t, svc.SetMessageFlag(ctx, 1, s.ID, m.ID, "selected", false))
	require.NoError(t, svc.SetMessageFlag(ctx, 1, s.ID, m.ID, "valid", true))

	got, err := repo.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Selected)
	require.NotNil(t, got.Valid)
	assert.True(t, *got.Valid)

	assert.Error(t, svc.SetMessageFlag(ctx, 1, s.ID, m.ID, "kind", true))
	assert.ErrorIs(t, svc.SetMessageFlag(ctx, 1, s.ID, "missing", "valid", true), ErrMessageNotFound)
	assert.ErrorIs(t, svc.SetMessageFlag(ctx, 2, s.ID, m.ID, "valid", true), ErrSessionNotFound)
}

func TestHasMessages(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.InsertMessage(ctx, &Message{SessionID: s.ID, Pipeline: "dynamic.abc", Kind: KindRequest, Selected: true}))

	ok, err := repo.HasMessages(ctx, s.ID, []string{"dynamic.abc", "echo"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasMessages(ctx, s.ID, []string{"echo"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.HasMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddFile_ReusesSameName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, 1)
	require.NoError(t, err)

	f1, err := svc.AddFile(ctx, 1, s.ID, "../notes.TXT", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "notes.TXT", f1.Name)
	assert.Equal(t, ".txt", filepath.Ext(f1.Path))

	body, err := os.ReadFile(f1.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	f2, err := svc.AddFile(ctx, 1, s.ID, "notes.TXT", strings.NewReader("other"))
	require.NoError(t, err)
	assert.Equal(t, f1.ID, f2.ID)

	require.NoError(t, svc.SetFileFavorite(ctx, 1, f1.ID, true))
	assert.ErrorIs(t, svc.SetFileFavorite(ctx, 2, f1.ID, true), ErrFileNotFound)

	files, err := svc.ListFiles(ctx, 1, s.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].Favorite)
}

func TestDeleteSession_RemovesEverything(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, 1)
	require.NoError(t, err)

	f, err := svc.AddFile(ctx, 1, s.ID, "a.wav", strings.NewReader("data"))
	require.NoError(t, err)
	require.NoError(t, repo.InsertMessage(ctx, &Message{SessionID: s.ID, Pipeline: "echo", Kind: KindRequest, Selected: true}))
	require.NoError(t, repo.CreateJob(ctx, &Job{ID: "01JOB", UserID: 1, SessionID: s.ID, Pipeline: "echo", Status: JobQueued}))

	require.NoError(t, svc.DeleteSession(ctx, 1, s.ID))

	_, err = repo.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	msgs, err := repo.ListMessages(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestJobLifecycle(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()
	key := "k1"
	job := &Job{ID: "01JOBLIFECYCLE", UserID: 7, SessionID: "s", Pipeline: "echo", Status: JobQueued, IdempotencyKey: &key}
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.UpdateJobStatusRunning(ctx, job.ID))
	got, err := repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)

	require.NoError(t, repo.MarkJobFailed(ctx, job.ID, "boom"))
	got, err = repo.GetJobByUserAndIdempotencyKey(ctx, 7, key)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
}

func TestGetJobHidesOtherUsers(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateJob(ctx, &Job{ID: "01JOBOWNER", UserID: 1, SessionID: "s", Pipeline: "echo", Status: JobQueued}))

	_, err := svc.GetJob(ctx, 2, "01JOBOWNER")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = svc.GetJob(ctx, 1, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	j, err := svc.GetJob(ctx, 1, "01JOBOWNER")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, j.Status)
}
