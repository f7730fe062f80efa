package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/db/dbtest"
	"github.com/suPer8Hu/pipeline-platform/internal/notify"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
	"github.com/suPer8Hu/pipeline-platform/internal/pipelines"
)

type failing struct {
	pipeline.Base
	panics bool
}

func (f *failing) Title(context.Context, *chat.Message, *chat.Message) (string, error) {
	return "never", nil
}

func (f *failing) Process(_ context.Context, _, resp *chat.Message) error {
	resp.SetResult("partial work")
	if f.panics {
		panic("nil map somewhere")
	}
	return errors.New("model server unreachable")
}

func failingDef(alias string, panics bool) *pipeline.Definition {
	return &pipeline.Definition{
		Descriptor: pipeline.NewDescriptor(alias, "Failing"),
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return &failing{Base: pipeline.NewBase(rt), panics: panics}
		},
	}
}

// waiting runs until its context is done.
type waiting struct {
	pipeline.Base
}

func (waiting) Title(context.Context, *chat.Message, *chat.Message) (string, error) {
	return "", nil
}

func (waiting) Process(ctx context.Context, _, _ *chat.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

type subjects map[uint64]permission.Subject

func (s subjects) Load(_ context.Context, id uint64) (permission.Subject, error) {
	subj, ok := s[id]
	if !ok {
		return permission.Subject{}, errors.New("unknown user")
	}
	return subj, nil
}

// queue keeps dispatched jobs for the test to execute.
type queue struct {
	mu   sync.Mutex
	msgs []chat.JobMessage
	err  error
}

func (q *queue) Dispatch(_ context.Context, msg chat.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

// persisted fails the test when a message notification precedes storage.
type persisted struct {
	t    *testing.T
	repo *chat.Repo
}

func (p persisted) Publish(ctx context.Context, _ string, env notify.Envelope) error {
	if env.Type != notify.TypeMessage {
		return nil
	}
	view, ok := env.Message["data"].(chat.View)
	require.True(p.t, ok)
	stored, err := p.repo.GetMessage(ctx, view.ID)
	require.NoError(p.t, err, "message notified before it was stored")
	assert.Equal(p.t, view.Kind, stored.Kind)
	return nil
}

type fixture struct {
	engine  *Engine
	repo    *chat.Repo
	rec     *notify.Recorder
	queue   *queue
	session *chat.Session
}

var alice = permission.Subject{ID: 1, Username: "alice"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, append(chat.Models(), &pipeline.DynamicPipeline{})...)
	repo := chat.NewRepo(db)

	lib := pipeline.NewLibrary()
	lib.AddPipeline("demo.echo", pipelines.Echo())
	lib.AddPipeline("test.fail", failingDef("test.fail", false))
	lib.AddPipeline("test.panic", failingDef("test.panic", true))
	lib.AddPipeline("test.wait", &pipeline.Definition{
		Descriptor: pipeline.NewDescriptor("test.wait", "Waiting"),
		New:        func(rt *pipeline.Runtime) pipeline.Handler { return waiting{Base: pipeline.NewBase(rt)} },
	})
	cat := &pipeline.Catalog{
		DefaultPipeline: "demo.echo",
		Pipelines: []pipeline.PipelineDecl{
			{Alias: "demo.echo", Backend: "demo.echo"},
			{Alias: "test.fail", Backend: "test.fail"},
			{Alias: "test.panic", Backend: "test.panic"},
			{Alias: "test.wait", Backend: "test.wait"},
		},
	}
	reg := pipeline.NewRegistry(lib, func() (*pipeline.Catalog, error) { return cat, nil }, pipeline.NewDynamicRepo(db), zerolog.Nop())

	rec := notify.NewRecorder(persisted{t: t, repo: repo})
	q := &queue{}
	e := New(repo, reg, subjects{1: alice, 2: {ID: 2, Username: "bob"}}, rec, zerolog.Nop(), WithDispatcher(q))

	s := &chat.Session{UserID: alice.ID}
	require.NoError(t, repo.CreateSession(context.Background(), s))
	return &fixture{engine: e, repo: repo, rec: rec, queue: q, session: s}
}

func (f *fixture) run(t *testing.T, alias string, payload map[string]any) *Ack {
	t.Helper()
	ctx := context.Background()
	ack, err := f.engine.Submit(ctx, alice, f.session.ID, RunRequest{Pipeline: alias, Payload: payload})
	require.NoError(t, err)
	require.NotEmpty(t, f.queue.msgs)
	require.NoError(t, f.engine.Execute(ctx, f.queue.msgs[len(f.queue.msgs)-1]))
	return ack
}

func TestEchoTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ack := f.run(t, "demo.echo", map[string]any{"prompt": "hello"})
	assert.Equal(t, f.session.ChannelID(), ack.ChannelID)

	msgs, err := f.repo.ListMessages(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.KindRequest, msgs[0].Kind)
	assert.Equal(t, map[string]any{"prompt": "hello"}, map[string]any(msgs[0].Data))
	assert.Equal(t, chat.KindResponse, msgs[1].Kind)
	assert.Equal(t, "hello", msgs[1].Text("result"))
	assert.Equal(t, chat.StatusEnded, msgs[1].Status)

	s, err := f.repo.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Echo", s.TitleOrEmpty())

	assert.Equal(t, []string{
		notify.TypeMessage, notify.TypePartial,
		notify.TypeMessage, notify.TypeResult, notify.TypeTitle,
	}, f.rec.Types())

	job, err := f.repo.GetJobByID(ctx, ack.JobID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobSucceeded, job.Status)
}

func TestDefaultPipeline(t *testing.T) {
	f := newFixture(t)
	f.run(t, "", map[string]any{"prompt": "hi"})
	assert.Equal(t, "demo.echo", f.queue.msgs[0].Pipeline)
}

func TestValidationFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, alice, f.session.ID, RunRequest{Pipeline: "demo.echo", Payload: map[string]any{}})
	var ve *pipeline.ValidationError
	require.True(t, errors.As(err, &ve))

	msgs, err := f.repo.ListMessages(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, []string{notify.TypeError}, f.rec.Types())
	assert.Empty(t, f.queue.msgs)
}

func TestUnknownPipeline(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(context.Background(), alice, f.session.ID, RunRequest{Pipeline: "nope", Payload: map[string]any{"prompt": "x"}})
	assert.ErrorIs(t, err, pipeline.ErrPipelineNotFound)
	assert.Empty(t, f.rec.Types())
}

func TestForeignSession(t *testing.T) {
	f := newFixture(t)
	bob := permission.Subject{ID: 2, Username: "bob"}
	_, err := f.engine.Submit(context.Background(), bob, f.session.ID, RunRequest{Pipeline: "demo.echo", Payload: map[string]any{"prompt": "x"}})
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = f.engine.SerializeMessages(context.Background(), bob, f.session.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestHandlerFailure(t *testing.T) {
	for _, alias := range []string{"test.fail", "test.panic"} {
		t.Run(alias, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			ack := f.run(t, alias, map[string]any{"prompt": "x"})

			resp, err := f.repo.GetMessage(ctx, ack.ResponseID)
			require.NoError(t, err)
			assert.Equal(t, chat.KindError, resp.Kind)
			assert.NotEmpty(t, resp.Text("error"))
			assert.Equal(t, 1, f.rec.Count(notify.TypeError))
			assert.Equal(t, 0, f.rec.Count(notify.TypeTitle))

			job, err := f.repo.GetJobByID(ctx, ack.JobID)
			require.NoError(t, err)
			assert.Equal(t, chat.JobFailed, job.Status)

			s, err := f.repo.GetSession(ctx, f.session.ID)
			require.NoError(t, err)
			assert.Nil(t, s.Title)
		})
	}
}

func TestCancelledTurnIsStored(t *testing.T) {
	f := newFixture(t)
	bg := context.Background()
	ack, err := f.engine.Submit(bg, alice, f.session.ID, RunRequest{Pipeline: "test.wait", Payload: map[string]any{"prompt": "x"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(bg)
	time.AfterFunc(50*time.Millisecond, cancel)
	require.NoError(t, f.engine.Execute(ctx, f.queue.msgs[0]))

	resp, err := f.repo.GetMessage(bg, ack.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, chat.KindError, resp.Kind)
	assert.Equal(t, chat.StatusEnded, resp.Status)
	assert.Contains(t, resp.Text("error"), context.Canceled.Error())

	job, err := f.repo.GetJobByID(bg, ack.JobID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobFailed, job.Status)

	// a requeued delivery replays as a no-op
	require.NoError(t, f.engine.Execute(bg, f.queue.msgs[0]))
	assert.Equal(t, 1, f.rec.Count(notify.TypeError))
}

func TestPanicIsReported(t *testing.T) {
	f := newFixture(t)
	ack := f.run(t, "test.panic", map[string]any{"prompt": "x"})
	resp, err := f.repo.GetMessage(context.Background(), ack.ResponseID)
	require.NoError(t, err)
	assert.Contains(t, resp.Text("error"), "nil map somewhere")
}

func TestTitleSetOnce(t *testing.T) {
	f := newFixture(t)
	f.run(t, "demo.echo", map[string]any{"prompt": "one"})
	f.run(t, "demo.echo", map[string]any{"prompt": "two"})
	assert.Equal(t, 1, f.rec.Count(notify.TypeTitle))
}

func TestReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.run(t, "demo.echo", map[string]any{"prompt": "hello"})
	before := len(f.rec.Types())

	require.NoError(t, f.engine.Execute(ctx, f.queue.msgs[0]))
	assert.Len(t, f.rec.Types(), before)
	msgs, err := f.repo.ListMessages(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestIdempotentSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := RunRequest{Pipeline: "demo.echo", Payload: map[string]any{"prompt": "once"}, IdempotencyKey: "key-1"}

	first, err := f.engine.Submit(ctx, alice, f.session.ID, in)
	require.NoError(t, err)
	second, err := f.engine.Submit(ctx, alice, f.session.ID, in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, f.queue.msgs, 1)

	msgs, err := f.repo.ListMessages(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("broker down")
	_, err := f.engine.Submit(context.Background(), alice, f.session.ID, RunRequest{Pipeline: "demo.echo", Payload: map[string]any{"prompt": "x"}})
	assert.Error(t, err)
}

func TestSerializeMessages(t *testing.T) {
	f := newFixture(t)
	f.run(t, "demo.echo", map[string]any{"prompt": "hello"})

	views, err := f.engine.SerializeMessages(context.Background(), alice, f.session.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "hello", views[0].Content)
	assert.Equal(t, "hello", views[1].Content)
	assert.Equal(t, "Echo pipeline", views[1].PipelineLabel)
	assert.Equal(t, "alice", views[0].Username)
	assert.Equal(t, f.session.ChannelID(), views[0].ChannelID)
}

func TestSerializeOrphanMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.InsertMessage(ctx, &chat.Message{
		SessionID: f.session.ID, Pipeline: "dynamic.gone", Kind: chat.KindRequest,
		Data: map[string]any{"prompt": "old"}, Selected: true, Renderer: chat.RendererMarkdown,
	}))
	views, err := f.engine.SerializeMessages(ctx, alice, f.session.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "old", views[0].Content)
	assert.Equal(t, "dynamic.gone", views[0].PipelineLabel)
}

func TestExecuteUnresolvedPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := &chat.Message{SessionID: f.session.ID, Pipeline: "dynamic.gone", Kind: chat.KindRequest,
		Data: map[string]any{"prompt": "old"}, Selected: true, Renderer: chat.RendererMarkdown}
	require.NoError(t, f.repo.InsertMessage(ctx, req))
	resp := &chat.Message{SessionID: f.session.ID, Pipeline: "dynamic.gone", Kind: chat.KindResponse,
		Status: chat.StatusStarted, Data: map[string]any{}, Selected: true, Renderer: chat.RendererMarkdown}
	require.NoError(t, f.repo.InsertMessage(ctx, resp))
	job := &chat.Job{ID: "01J0000000000000000000GONE", UserID: alice.ID, SessionID: f.session.ID, Pipeline: "dynamic.gone",
		RequestMessageID: req.ID, ResponseMessageID: resp.ID, Status: chat.JobQueued}
	require.NoError(t, f.repo.CreateJob(ctx, job))

	require.NoError(t, f.engine.Execute(ctx, chat.JobMessage{JobID: job.ID}))

	got, err := f.repo.GetMessage(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.KindError, got.Kind)
	assert.Contains(t, got.Text("error"), pipeline.ErrPipelineNotFound.Error())
	stored, err := f.repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobFailed, stored.Status)
}

func TestInlineDispatcher(t *testing.T) {
	f := newFixture(t)
	inline := NewInline(f.engine, 2, zerolog.Nop())
	f.engine.SetDispatcher(inline)
	ctx := context.Background()

	ack, err := f.engine.Submit(ctx, alice, f.session.ID, RunRequest{Pipeline: "demo.echo", Payload: map[string]any{"prompt": "bg"}})
	require.NoError(t, err)
	inline.Wait()

	resp, err := f.repo.GetMessage(ctx, ack.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusEnded, resp.Status)
	assert.Equal(t, "bg", resp.Text("result"))
}

func TestSessionLocks(t *testing.T) {
	var l sessionLocks
	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("s")
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()
			mu.Lock()
			running--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.m)
}
