// Package runner executes pipeline turns on chat sessions.
//
// A turn is submitted synchronously: the payload is validated, the request
// and the pending response are stored, and a job is dispatched. A worker then
// executes the job and stores the final response, which may be an error.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/common"
	"github.com/suPer8Hu/pipeline-platform/internal/metrics"
	"github.com/suPer8Hu/pipeline-platform/internal/notify"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

var (
	// ErrUnavailable rejects pipelines that are inactive or not ready.
	ErrUnavailable = errors.New("runner: pipeline unavailable")
	// ErrHandlerPanic wraps a panic raised by a handler.
	ErrHandlerPanic = errors.New("runner: handler panic")
)

// Subjects loads the permission subject of a user.
type Subjects interface {
	Load(ctx context.Context, userID uint64) (permission.Subject, error)
}

// Dispatcher hands a job to the worker side.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg chat.JobMessage) error
}

type Engine struct {
	repo     *chat.Repo
	registry *pipeline.Registry
	subjects Subjects
	pub      notify.Publisher
	dispatch Dispatcher
	log      zerolog.Logger
	metrics  *metrics.Metrics
	locks    sessionLocks
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatch = d }
}

func New(repo *chat.Repo, registry *pipeline.Registry, subjects Subjects, pub notify.Publisher, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		registry: registry,
		subjects: subjects,
		pub:      pub,
		log:      log.With().Str("component", "runner").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetDispatcher replaces the dispatcher. Used when the dispatcher needs the
// engine itself, as the inline one does.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatch = d }

type RunRequest struct {
	Pipeline       string         `json:"pipeline"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"-"`
}

// Ack tells the caller where to follow the turn.
type Ack struct {
	ChannelID  string `json:"channel_id"`
	JobID      string `json:"job_id"`
	RequestID  string `json:"request_id"`
	ResponseID string `json:"response_id"`
}

func (e *Engine) channel(s *chat.Session) *notify.Channel {
	return notify.NewChannel(e.pub, s.ChannelID(), s.ID, e.log, e.metrics)
}

func (e *Engine) runtime(s *chat.Session, subj permission.Subject, ch *notify.Channel) *pipeline.Runtime {
	rt := &pipeline.Runtime{
		Session:  s,
		Username: subj.Username,
		Notify:   ch,
		Files:    e.repo,
		Log:      e.log.With().Str("session_id", s.ID).Logger(),
	}
	rt.History = func(ctx context.Context) ([]chat.View, error) {
		return e.serialize(ctx, s, subj)
	}
	return rt
}

// Submit validates and records a turn, then dispatches its execution. A
// repeated idempotency key returns the first turn's ack.
func (e *Engine) Submit(ctx context.Context, subj permission.Subject, sessionID string, in RunRequest) (*Ack, error) {
	session, err := e.repo.GetUserSession(ctx, subj.ID, sessionID)
	if err != nil {
		return nil, err
	}

	var key *string
	if in.IdempotencyKey != "" {
		k := in.IdempotencyKey
		key = &k
		job, err := e.repo.GetJobByUserAndIdempotencyKey(ctx, subj.ID, k)
		switch {
		case err == nil:
			return &Ack{ChannelID: session.ChannelID(), JobID: job.ID, RequestID: job.RequestMessageID, ResponseID: job.ResponseMessageID}, nil
		case !errors.Is(err, chat.ErrJobNotFound):
			return nil, err
		}
	}

	alias := in.Pipeline
	if alias == "" {
		if alias, err = e.registry.DefaultPipeline(ctx); err != nil {
			return nil, err
		}
	}
	def, err := e.registry.Resolve(ctx, alias, subj)
	if err != nil {
		return nil, err
	}
	ch := e.channel(session)
	if !def.Descriptor.Active || !def.Descriptor.Ready {
		ch.Error(ctx, fmt.Sprintf("pipeline %s is not available", alias))
		return nil, ErrUnavailable
	}

	payload, err := def.PayloadSchema().Clean(in.Payload)
	if err != nil {
		ch.Error(ctx, err.Error())
		return nil, err
	}

	rt := e.runtime(session, subj, ch)
	h := def.Instantiate(rt)

	req := &chat.Message{
		SessionID: session.ID,
		Pipeline:  alias,
		Data:      payload,
		Kind:      chat.KindRequest,
		Selected:  true,
		Renderer:  chat.RendererMarkdown,
	}
	if err := e.repo.InsertMessage(ctx, req); err != nil {
		return nil, err
	}
	ch.Message(ctx, rt.View(req))

	resp := &chat.Message{
		SessionID: session.ID,
		Pipeline:  alias,
		Data:      map[string]any{},
		Kind:      chat.KindResponse,
		Status:    chat.StatusStarted,
		Selected:  true,
		Renderer:  chat.RendererMarkdown,
		CreatedAt: after(req.CreatedAt),
	}
	ack := &Ack{ChannelID: session.ChannelID(), RequestID: req.ID}

	if err := guard(func() error { return h.Preprocess(ctx, req, resp) }); err != nil {
		if ferr := e.fail(ctx, rt, resp, err, true); ferr != nil {
			return nil, ferr
		}
		ack.ResponseID = resp.ID
		e.metrics.RecordTurn(alias, "failed", 0)
		return ack, nil
	}
	if err := e.repo.InsertMessage(ctx, resp); err != nil {
		return nil, err
	}
	ack.ResponseID = resp.ID
	ch.Partial(ctx, rt.View(resp))

	jobID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	job := &chat.Job{
		ID:                jobID,
		UserID:            subj.ID,
		SessionID:         session.ID,
		Pipeline:          alias,
		Payload:           payload,
		RequestMessageID:  req.ID,
		ResponseMessageID: resp.ID,
		IdempotencyKey:    key,
		Status:            chat.JobQueued,
	}
	if err := e.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	ack.JobID = job.ID

	msg := chat.JobMessage{JobID: job.ID, SessionID: session.ID, Pipeline: alias, Payload: payload}
	err = e.dispatch.Dispatch(ctx, msg)
	e.metrics.RecordDispatch(err)
	if err != nil {
		_ = e.repo.MarkJobFailed(ctx, job.ID, err.Error())
		return nil, fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}

	e.log.Info().Str("job_id", job.ID).Str("session_id", session.ID).Str("pipeline", alias).Msg("turn submitted")
	return ack, nil
}

// after returns now, or t plus a millisecond when now does not sort after t
// at the storage precision.
func after(t time.Time) time.Time {
	now := time.Now().UTC()
	if now.Sub(t) < time.Millisecond {
		return t.Add(time.Millisecond)
	}
	return now
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn()
}

// fail switches resp to an error message, stores it and notifies it. insert
// is set when resp has not been stored yet. The write survives cancellation
// of ctx so an interrupted turn still ends in a stored state.
func (e *Engine) fail(ctx context.Context, rt *pipeline.Runtime, resp *chat.Message, cause error, insert bool) error {
	ctx = context.WithoutCancel(ctx)
	resp.Kind = chat.KindError
	resp.Status = chat.StatusEnded
	resp.Set("error", cause.Error())

	var err error
	if insert {
		err = e.repo.InsertMessage(ctx, resp)
	} else {
		err = e.repo.SaveMessage(ctx, resp)
	}
	if err != nil {
		return err
	}
	view := rt.View(resp)
	rt.Notify.Error(ctx, view)
	rt.Notify.Message(ctx, view)
	return nil
}

// Execute runs a dispatched job. Turns of one session run one at a time. A
// job whose response is already final is acknowledged without running again.
// Handler failures are stored on the response; only storage errors are
// returned.
func (e *Engine) Execute(ctx context.Context, msg chat.JobMessage) error {
	job, err := e.repo.GetJobByID(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}
	log := e.log.With().Str("job_id", job.ID).Str("session_id", job.SessionID).Str("pipeline", job.Pipeline).Logger()

	unlock := e.locks.lock(job.SessionID)
	defer unlock()

	resp, err := e.repo.GetMessage(ctx, job.ResponseMessageID)
	if errors.Is(err, chat.ErrMessageNotFound) {
		log.Warn().Msg("response gone, session probably deleted")
		return e.repo.MarkJobFailed(ctx, job.ID, "response message not found")
	}
	if err != nil {
		return err
	}
	if resp.Status == chat.StatusEnded {
		log.Debug().Msg("job already finished")
		return e.settle(ctx, job, resp)
	}
	req, err := e.repo.GetMessage(ctx, job.RequestMessageID)
	if err != nil {
		return err
	}
	session, err := e.repo.GetSession(ctx, job.SessionID)
	if err != nil {
		return err
	}
	subj, err := e.subjects.Load(ctx, job.UserID)
	if err != nil {
		return err
	}
	if err := e.repo.UpdateJobStatusRunning(ctx, job.ID); err != nil {
		return err
	}

	ch := e.channel(session)
	rt := e.runtime(session, subj, ch)
	start := time.Now()

	def, err := e.registry.Resolve(ctx, job.Pipeline, subj)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline no longer resolves")
		def = fallback(job.Pipeline)
	}
	h := def.Instantiate(rt)
	if err != nil {
		return e.failJob(ctx, job, rt, resp, err, start)
	}

	if err := guard(func() error { return h.Process(ctx, req, resp) }); err != nil {
		log.Warn().Err(err).Msg("turn failed")
		return e.failJob(ctx, job, rt, resp, err, start)
	}

	// from here on the turn is settled even if ctx is cancelled
	store := context.WithoutCancel(ctx)
	resp.Status = chat.StatusEnded
	if err := e.repo.SaveMessage(store, resp); err != nil {
		return err
	}
	ch.Message(store, rt.View(resp))

	if err := guard(func() error { return h.Postprocess(ctx, req, resp) }); err != nil {
		log.Warn().Err(err).Msg("postprocess failed")
		return e.failJob(ctx, job, rt, resp, err, start)
	}
	if err := e.repo.SaveMessage(store, resp); err != nil {
		return err
	}
	ch.Result(store, rt.View(resp))

	if session.Title == nil {
		e.resolveTitle(ctx, session, h, req, resp, ch, log)
	}

	if err := e.repo.MarkJobSucceeded(store, job.ID); err != nil {
		return err
	}
	d := time.Since(start)
	e.metrics.RecordTurn(job.Pipeline, "succeeded", d)
	log.Info().Dur("took", d).Msg("turn completed")
	return nil
}

func (e *Engine) failJob(ctx context.Context, job *chat.Job, rt *pipeline.Runtime, resp *chat.Message, cause error, start time.Time) error {
	if err := e.fail(ctx, rt, resp, cause, false); err != nil {
		return err
	}
	e.metrics.RecordTurn(job.Pipeline, "failed", time.Since(start))
	return e.repo.MarkJobFailed(context.WithoutCancel(ctx), job.ID, cause.Error())
}

// settle aligns the job status with an already final response.
func (e *Engine) settle(ctx context.Context, job *chat.Job, resp *chat.Message) error {
	if job.Status == chat.JobSucceeded || job.Status == chat.JobFailed {
		return nil
	}
	if resp.Kind == chat.KindError {
		return e.repo.MarkJobFailed(ctx, job.ID, resp.Text("error"))
	}
	return e.repo.MarkJobSucceeded(ctx, job.ID)
}

// resolveTitle names the session after its first successful turn. A handler
// that cannot produce a title leaves the pipeline label.
func (e *Engine) resolveTitle(ctx context.Context, s *chat.Session, h pipeline.Handler, req, resp *chat.Message, ch *notify.Channel, log zerolog.Logger) {
	var title string
	err := guard(func() error {
		var err error
		title, err = h.Title(ctx, req, resp)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Msg("title generation failed")
	}
	if title == "" {
		title = h.Descriptor().Label
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.repo.UpdateSessionTitle(ctx, s.ID, title); err != nil {
		log.Warn().Err(err).Msg("store session title")
		return
	}
	s.Title = &title
	ch.Title(ctx, title)
}
