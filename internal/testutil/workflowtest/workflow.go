// Package workflowtest runs the whole scheduler stack the way main wires
// it: the real router behind the production middleware chain on a live
// test server, file-backed storage in a temp directory, the fan-out hub,
// and scripted posters standing in for the platform clients. Time is a
// stepped clock: the executor ticks in real time but every due-ness and
// backoff decision reads the harness clock, so tests jump hours forward
// without waiting.
package workflowtest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/data"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/fanout"
	httpx "github.com/postpilot/postpilot-go/internal/http"
	"github.com/postpilot/postpilot-go/internal/service"
	"github.com/postpilot/postpilot-go/internal/testutil"
)

// Clock is a settable TimeProvider safe for concurrent use: the executor
// goroutine reads it while the test goroutine advances it.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

var _ data.TimeProvider = (*Clock)(nil)

// NewClock creates a clock pinned to the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current clock reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set pins the clock to a new instant.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance steps the clock forward and returns the new reading.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// PostCall records one poster invocation.
type PostCall struct {
	AccountID string
	Content   string
}

// ScriptedPoster plays queued results back in order; once the queue is
// empty every post succeeds with a generated thread id. Safe for
// concurrent use.
type ScriptedPoster struct {
	mu     sync.Mutex
	queue  []model.PostResult
	calls  []PostCall
	nextID int
}

var _ core.Poster = (*ScriptedPoster)(nil)

// NewScriptedPoster creates a poster with an empty script.
func NewScriptedPoster() *ScriptedPoster {
	return &ScriptedPoster{}
}

// Enqueue appends results to the script.
func (p *ScriptedPoster) Enqueue(results ...model.PostResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, results...)
}

// Post records the call and returns the next scripted result.
func (p *ScriptedPoster) Post(ctx context.Context, accountID, content string) (model.PostResult, error) {
	if err := ctx.Err(); err != nil {
		return model.PostResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, PostCall{AccountID: accountID, Content: content})

	if len(p.queue) > 0 {
		result := p.queue[0]
		p.queue = p.queue[1:]
		return result, nil
	}

	p.nextID++
	threadID := fmt.Sprintf("thread-%d", p.nextID)
	return model.PostResult{OK: true, ThreadID: &threadID}, nil
}

// Calls returns a copy of every recorded invocation in order.
func (p *ScriptedPoster) Calls() []PostCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PostCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// TransientFailure builds a failed result eligible for backoff retry.
func TransientFailure(msg string) model.PostResult {
	return model.PostResult{Error: &msg}
}

// PermanentFailure builds a failed result that spends no retry budget.
func PermanentFailure(msg string) model.PostResult {
	return model.PostResult{Error: &msg, Permanent: true}
}

// ShadowFailure builds a result the platform accepted but suppressed.
func ShadowFailure() model.PostResult {
	return model.PostResult{OK: true, ShadowFail: true}
}

// ScriptedFactory hands every platform the same fallback poster unless a
// platform-specific one is registered.
type ScriptedFactory struct {
	mu         sync.Mutex
	byPlatform map[model.Platform]core.Poster
	fallback   core.Poster
}

var _ core.PosterFactory = (*ScriptedFactory)(nil)

// NewScriptedFactory creates a factory that resolves to fallback.
func NewScriptedFactory(fallback core.Poster) *ScriptedFactory {
	return &ScriptedFactory{
		byPlatform: make(map[model.Platform]core.Poster),
		fallback:   fallback,
	}
}

// Register binds a poster to one platform.
func (f *ScriptedFactory) Register(platform model.Platform, p core.Poster) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPlatform[platform] = p
}

// PosterFor returns the platform's poster, or the fallback.
func (f *ScriptedFactory) PosterFor(platform model.Platform) (core.Poster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.byPlatform[platform]; ok {
		return p, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return nil, fmt.Errorf("no poster configured for platform %q", platform)
}

// RecordedEvent is the flattened snapshot the recorder keeps per event.
// Job payloads are copied field by field at send time so later executor
// mutations cannot race an assertion.
type RecordedEvent struct {
	Type       string
	JobID      string
	Status     model.JobStatus
	RetryCount int
	ThreadID   *string
	AccountID  *string
	Timestamp  time.Time
}

// EventRecorder is an in-memory fan-out subscriber for asserting on event
// order. Connect it to a hub room like any socket.
type EventRecorder struct {
	mu     sync.Mutex
	events []RecordedEvent

	done      chan struct{}
	closeOnce sync.Once
}

var _ fanout.Socket = (*EventRecorder)(nil)

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{done: make(chan struct{})}
}

// Send flattens the event and appends it to the record.
func (r *EventRecorder) Send(event model.Event) error {
	rec := RecordedEvent{Type: event.Type, Timestamp: event.Timestamp}
	if event.AccountID != nil {
		accountID := *event.AccountID
		rec.AccountID = &accountID
	}
	if job, ok := event.Data.(*model.Job); ok && job != nil {
		rec.JobID = job.ID
		rec.Status = job.Status
		rec.RetryCount = job.RetryCount
		if job.ThreadID != nil {
			threadID := *job.ThreadID
			rec.ThreadID = &threadID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rec)
	return nil
}

// Receive blocks until Close, then reports the peer gone. The hub only
// calls it when the recorder is served as a connection.
func (r *EventRecorder) Receive() (fanout.InboundMessage, error) {
	<-r.done
	return fanout.InboundMessage{}, io.EOF
}

// Close releases any Receive caller.
func (r *EventRecorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// JobEvents returns the recorded events carrying the given job id.
func (r *EventRecorder) JobEvents(jobID string) []RecordedEvent {
	var out []RecordedEvent
	for _, rec := range r.Events() {
		if rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	return out
}

// TypesFor returns the event type sequence observed for one job.
func (r *EventRecorder) TypesFor(jobID string) []string {
	return EventTypes(r.JobEvents(jobID))
}

// EventTypes flattens recorded events to their type names.
func EventTypes(events []RecordedEvent) []string {
	types := make([]string, len(events))
	for i, rec := range events {
		types[i] = rec.Type
	}
	return types
}

// Options tunes the harness. Zero values select defaults suited to fast
// deterministic runs: 10ms executor ticks against a clock pinned to
// testutil.TestTime.
type Options struct {
	// StartAt pins the clock; defaults to testutil.TestTime().
	StartAt time.Time
	// CheckInterval is the real-time executor tick; defaults to 10ms.
	CheckInterval time.Duration
	// ReloadInterval spaces non-forced reloads in clock time; defaults to 30s.
	ReloadInterval time.Duration
	// ReloadCheckDelay is the post-save reload quiet period; defaults to 2s.
	ReloadCheckDelay time.Duration
	// MaxRunningAge bounds one attempt's running state; defaults to 30m.
	MaxRunningAge time.Duration
	// MaxRetries is the default retry budget; defaults to 3.
	MaxRetries int
	// OverdueThreshold tightens the dispatch window; zero keeps the 24h cap.
	OverdueThreshold time.Duration
	// SeedJobs are persisted to storage before the service first loads,
	// as rows left behind by a previous process.
	SeedJobs []*model.Job
}

func (o *Options) applyDefaults() {
	if o.StartAt.IsZero() {
		o.StartAt = testutil.TestTime()
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 10 * time.Millisecond
	}
	if o.ReloadInterval <= 0 {
		o.ReloadInterval = 30 * time.Second
	}
	if o.ReloadCheckDelay <= 0 {
		o.ReloadCheckDelay = 2 * time.Second
	}
	if o.MaxRunningAge <= 0 {
		o.MaxRunningAge = 30 * time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
}

// Harness owns one fully wired scheduler stack and the HTTP helpers the
// lifecycle tests drive it with.
type Harness struct {
	Dir       string
	Clock     *Clock
	Store     *data.FileJobStore
	Hub       *fanout.Hub
	Recorder  *EventRecorder
	Poster    *ScriptedPoster
	Posters   *ScriptedFactory
	Scheduler *service.SchedulerService
	Server    *httptest.Server

	t      *testing.T
	logger *slog.Logger
	client *http.Client
}

// New builds the stack: storage, clock, hub with a recorder subscribed to
// the scheduler room, the facade, scripted posters, and the router behind
// the production middleware chain on a live server. Everything is torn
// down through t.Cleanup, server first so requests drain before the
// scheduler's final save.
func New(t *testing.T, opts Options) *Harness {
	t.Helper()
	opts.applyDefaults()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	store, err := data.NewFileJobStore(dir, data.StoreConfig{Logger: logger})
	require.NoError(t, err)

	if len(opts.SeedJobs) > 0 {
		seed := make(map[string]*model.Job, len(opts.SeedJobs))
		for _, job := range opts.SeedJobs {
			require.NotEmpty(t, job.ID, "seed jobs need ids")
			seed[job.ID] = job
		}
		require.NoError(t, store.SaveAll(context.Background(), seed))
	}

	clock := NewClock(opts.StartAt)

	hub := fanout.NewHub(fanout.HubOptions{Logger: logger, TimeProvider: clock})
	recorder := NewEventRecorder()
	hub.Connect(recorder, fanout.DefaultRoom, nil)
	t.Cleanup(recorder.Close)

	svc, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Store:        store,
		TimeProvider: clock,
		Logger:       logger,
		Publisher:    hub,
		Config: core.ExecutorConfig{
			CheckInterval:    opts.CheckInterval,
			ReloadInterval:   opts.ReloadInterval,
			ReloadCheckDelay: opts.ReloadCheckDelay,
			MaxRunningAge:    opts.MaxRunningAge,
			MaxRetries:       opts.MaxRetries,
			OverdueThreshold: opts.OverdueThreshold,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Stop(ctx))
	})

	posterStub := NewScriptedPoster()
	factory := NewScriptedFactory(posterStub)

	router := httpx.NewRouter(httpx.RouterServices{
		Scheduler: svc,
		Hub:       hub,
		Posters:   factory,
		Logger:    logger,
	})

	// Same chain main builds: Recover -> Logging -> RequestID -> Compression.
	handler := httpx.Compression(httpx.CompressionConfig{Level: gzip.BestSpeed})(router)
	handler = httpx.RequestID()(handler)
	handler = httpx.Logging(logger)(handler)
	handler = httpx.Recover(logger)(handler)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &Harness{
		Dir:       dir,
		Clock:     clock,
		Store:     store,
		Hub:       hub,
		Recorder:  recorder,
		Poster:    posterStub,
		Posters:   factory,
		Scheduler: svc,
		Server:    server,
		t:         t,
		logger:    logger,
		client:    server.Client(),
	}
}

// envelope mirrors the response wrapper with raw data for per-call decoding.
type envelope struct {
	Success bool             `json:"success"`
	Data    json.RawMessage  `json:"data"`
	Error   *httpx.ErrorBody `json:"error"`
}

// do performs one JSON request against the live server and decodes the
// envelope. Must run on the test goroutine; failures are fatal.
func (h *Harness) do(method, path string, payload any) (int, envelope) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(h.t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.Server.URL+path, body)
	require.NoError(h.t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			h.t.Logf("warning: failed to close response body: %v", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)

	var env envelope
	if len(raw) > 0 {
		require.NoError(h.t, json.Unmarshal(raw, &env), "body: %s", raw)
	}
	return resp.StatusCode, env
}

// CreateJob schedules a job through the API, failing the test on any error.
func (h *Harness) CreateJob(req *model.CreateJobRequest) *model.Job {
	h.t.Helper()

	status, env := h.do(http.MethodPost, "/api/jobs", req)
	require.Equal(h.t, http.StatusCreated, status, "create job error: %+v", env.Error)

	var payload struct {
		Job *model.Job `json:"job"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &payload))
	require.NotNil(h.t, payload.Job)
	return payload.Job
}

// CreateJobExpectError submits a create request expected to fail and
// returns the status with the decoded error body.
func (h *Harness) CreateJobExpectError(req *model.CreateJobRequest) (int, *httpx.ErrorBody) {
	h.t.Helper()

	status, env := h.do(http.MethodPost, "/api/jobs", req)
	require.NotNil(h.t, env.Error, "expected an error response, got %d", status)
	return status, env.Error
}

// GetJob fetches one job, failing the test when it is missing.
func (h *Harness) GetJob(id string) *model.Job {
	h.t.Helper()

	job, status := h.TryGetJob(id)
	require.Equal(h.t, http.StatusOK, status)
	require.NotNil(h.t, job)
	return job
}

// TryGetJob fetches one job and returns it with the HTTP status; the job
// is nil on any non-200 answer.
func (h *Harness) TryGetJob(id string) (*model.Job, int) {
	h.t.Helper()

	status, env := h.do(http.MethodGet, "/api/jobs/"+id, nil)
	if status != http.StatusOK {
		return nil, status
	}
	var job model.Job
	require.NoError(h.t, json.Unmarshal(env.Data, &job))
	return &job, status
}

// DeleteJob removes a job through the API.
func (h *Harness) DeleteJob(id string) {
	h.t.Helper()

	status, env := h.do(http.MethodDelete, "/api/jobs/"+id, nil)
	require.Equal(h.t, http.StatusOK, status, "delete job error: %+v", env.Error)
}

// ListJobs fetches one page of jobs; query is a raw query string without
// the leading question mark.
func (h *Harness) ListJobs(query string) ([]*model.Job, int) {
	h.t.Helper()

	path := "/api/jobs"
	if query != "" {
		path += "?" + query
	}
	status, env := h.do(http.MethodGet, path, nil)
	require.Equal(h.t, http.StatusOK, status, "list jobs error: %+v", env.Error)

	var payload struct {
		Jobs  []*model.Job `json:"jobs"`
		Total int          `json:"total"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &payload))
	return payload.Jobs, payload.Total
}

// StartScheduler starts the executor loop through the API. Recovery of
// jobs left running by a previous process happens before this returns.
func (h *Harness) StartScheduler() model.SchedulerStatus {
	h.t.Helper()
	return h.postScheduler("/api/scheduler/start")
}

// StopScheduler stops the executor loop through the API.
func (h *Harness) StopScheduler() model.SchedulerStatus {
	h.t.Helper()
	return h.postScheduler("/api/scheduler/stop")
}

func (h *Harness) postScheduler(path string) model.SchedulerStatus {
	h.t.Helper()

	status, env := h.do(http.MethodPost, path, nil)
	require.Equal(h.t, http.StatusOK, status, "scheduler call error: %+v", env.Error)

	var payload model.SchedulerStatus
	require.NoError(h.t, json.Unmarshal(env.Data, &payload))
	return payload
}

// SchedulerState is the decoded status payload.
type SchedulerState struct {
	Running    bool           `json:"running"`
	ActiveJobs int            `json:"active_jobs"`
	Stats      model.JobStats `json:"stats"`
	Healthy    bool           `json:"healthy"`
}

// SchedulerStatus fetches the full status payload.
func (h *Harness) SchedulerStatus() SchedulerState {
	h.t.Helper()

	status, env := h.do(http.MethodGet, "/api/scheduler/status", nil)
	require.Equal(h.t, http.StatusOK, status, "status error: %+v", env.Error)

	var payload SchedulerState
	require.NoError(h.t, json.Unmarshal(env.Data, &payload))
	return payload
}

// Healthz returns the health endpoint's status code.
func (h *Harness) Healthz() int {
	h.t.Helper()
	status, _ := h.do(http.MethodGet, "/healthz", nil)
	return status
}

// AdvanceClock steps the scheduler clock forward and returns the new
// reading. The executor's ticker runs on real time; only due-ness and
// backoff arithmetic follow this clock.
func (h *Harness) AdvanceClock(d time.Duration) time.Time {
	return h.Clock.Advance(d)
}

// WaitForJob polls the API until accept returns true for the job or the
// deadline passes. Runs on the test goroutine so failures may be fatal.
func (h *Harness) WaitForJob(id string, timeout time.Duration, accept func(*model.Job) bool) *model.Job {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		job, status := h.TryGetJob(id)
		if status == http.StatusOK && accept(job) {
			return job
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("job %s did not reach the expected state within %s; last status %d, job %+v",
				id, timeout, status, job)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitForStatus polls until the job reports the given lifecycle status.
func (h *Harness) WaitForStatus(id string, status model.JobStatus, timeout time.Duration) *model.Job {
	h.t.Helper()
	return h.WaitForJob(id, timeout, func(job *model.Job) bool {
		return job.Status == status
	})
}

// WaitForJobEvents polls the recorder until at least n events carry the
// job's id, then returns them. Event publishes trail the state the API
// shows, so assertions on order wait here rather than on job state.
func (h *Harness) WaitForJobEvents(jobID string, n int, timeout time.Duration) []RecordedEvent {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		events := h.Recorder.JobEvents(jobID)
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("saw %d events for job %s within %s, want at least %d: %v",
				len(events), jobID, timeout, n, EventTypes(events))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ForceReload makes storage authoritative for everything this process is
// not actively running. Forced reloads skip the throttles, so no clock
// stepping is needed.
func (h *Harness) ForceReload() {
	h.t.Helper()

	ok, err := h.Scheduler.ReloadJobs(context.Background(), true)
	require.NoError(h.t, err)
	require.True(h.t, ok, "forced reload was suppressed")
}

// DeleteFromStore removes a job directly in the backing files, the way an
// external writer would, bypassing the API and the cache.
func (h *Harness) DeleteFromStore(id string) {
	h.t.Helper()

	store, err := data.NewFileJobStore(h.Dir, data.StoreConfig{Logger: h.logger})
	require.NoError(h.t, err)

	ctx := context.Background()
	jobs, err := store.LoadAll(ctx)
	require.NoError(h.t, err)
	require.Contains(h.t, jobs, id, "job not present in storage")

	delete(jobs, id)
	require.NoError(h.t, store.SaveAll(ctx, jobs))
}
