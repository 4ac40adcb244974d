package uploads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type predictFunc func(ctx context.Context, f domain.File, progress domain.ProgressFunc) ([]byte, error)

type fakePredictor struct {
	mu    sync.Mutex
	calls int
	fn    predictFunc
}

func (p *fakePredictor) Predict(ctx context.Context, f domain.File, progress domain.ProgressFunc) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.fn(ctx, f, progress)
}

func (p *fakePredictor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func replying(body string, err error) *fakePredictor {
	return &fakePredictor{fn: func(context.Context, domain.File, domain.ProgressFunc) ([]byte, error) {
		return []byte(body), err
	}}
}

// gated blocks every call until release is closed.
func gated(started chan<- struct{}, release <-chan struct{}, body string) *fakePredictor {
	return &fakePredictor{fn: func(ctx context.Context, _ domain.File, progress domain.ProgressFunc) ([]byte, error) {
		progress(0)
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, &domain.TransportError{Kind: domain.KindNoResponse, Err: ctx.Err()}
		}
		progress(100)
		return []byte(body), nil
	}}
}

type fakePreviews struct {
	mu       sync.Mutex
	live     map[string]bool
	maxLive  int
	released int
	failNext error

	// when set, Create signals creating and waits for proceed before storing
	creating chan<- struct{}
	proceed  <-chan struct{}
}

func newFakePreviews() *fakePreviews { return &fakePreviews{live: map[string]bool{}} }

func (s *fakePreviews) Create(_ context.Context, _ domain.SessionID, _ domain.File) (domain.Preview, error) {
	if s.creating != nil {
		s.creating <- struct{}{}
		<-s.proceed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return domain.Preview{}, err
	}
	key := uuid.New().String()
	s.live[key] = true
	if len(s.live) > s.maxLive {
		s.maxLive = len(s.live)
	}
	return domain.Preview{Key: key, URL: "blob:" + key}, nil
}

func (s *fakePreviews) Release(_ context.Context, p domain.Preview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[p.Key] {
		return errors.New("unknown preview")
	}
	delete(s.live, p.Key)
	s.released++
	return nil
}

func (s *fakePreviews) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

type fakeHistory struct {
	mu      sync.Mutex
	records []*analysis.Record
}

func (h *fakeHistory) Save(_ context.Context, r *analysis.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *fakeHistory) Paginate(context.Context, string, int, int) ([]*analysis.Record, error) {
	return nil, nil
}

var xray = domain.File{Name: "chest.png", ContentType: "image/png", Data: []byte("\x89PNG fake")}

func newTestController(t *testing.T, p domain.Predictor, previews domain.PreviewStore) *Controller {
	t.Helper()
	return NewController("s-1", "user-1", Deps{
		Predictor: p,
		Previews:  previews,
		Logger:    zaptest.NewLogger(t),
	})
}

func TestController_SelectSubmitTransitions(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := newTestController(t, gated(started, release, `{"predictions": {"Normal": 0.9}}`), newFakePreviews())

	assert.Equal(t, domain.StatusIdle, c.Snapshot().Status)

	require.NoError(t, c.SelectFile(context.Background(), xray))
	snap := c.Snapshot()
	assert.Equal(t, domain.StatusReady, snap.Status)
	require.NotNil(t, snap.File)
	assert.Equal(t, "chest.png", snap.File.Name)
	require.NotNil(t, snap.Preview)

	done := make(chan bool)
	go func() { done <- c.Submit(context.Background()) }()
	<-started

	snap = c.Snapshot()
	assert.Equal(t, domain.StatusUploading, snap.Status)
	assert.Equal(t, 0, snap.Progress)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Error)

	close(release)
	assert.True(t, <-done)

	snap = c.Snapshot()
	assert.Equal(t, domain.StatusDone, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 90, snap.Result.ConfidencePercent)
	assert.Empty(t, snap.Error)
}

func TestController_SubmitWhileUploadingIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := gated(started, release, `{}`)
	c := newTestController(t, p, newFakePreviews())
	require.NoError(t, c.SelectFile(context.Background(), xray))

	done := make(chan bool)
	go func() { done <- c.Submit(context.Background()) }()
	<-started

	for i := 0; i < 5; i++ {
		assert.False(t, c.Submit(context.Background()))
	}
	close(release)
	assert.True(t, <-done)
	assert.Equal(t, 1, p.Calls())
}

func TestController_SubmitOutsideReadyIsNoop(t *testing.T) {
	p := replying(`{}`, nil)
	c := newTestController(t, p, newFakePreviews())

	assert.False(t, c.Submit(context.Background()))
	assert.Equal(t, domain.StatusIdle, c.Snapshot().Status)

	require.NoError(t, c.SelectFile(context.Background(), xray))
	assert.True(t, c.Submit(context.Background()))
	assert.Equal(t, domain.StatusDone, c.Snapshot().Status)

	// no resubmission of a finished attempt without a new selection
	assert.False(t, c.Submit(context.Background()))
	assert.Equal(t, 1, p.Calls())
}

func TestController_FailureMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want string
	}{
		{name: "null body", body: "null", want: "empty response"},
		{name: "empty body", body: "", want: "empty response"},
		{name: "whitespace body", body: " \n", want: "empty response"},
		{name: "not json", body: "<html>", want: "invalid response"},
		{
			name: "server error",
			err:  &domain.TransportError{Kind: domain.KindServer, StatusCode: 500, Message: "model not loaded"},
			want: "server error: 500 - model not loaded",
		},
		{
			name: "no response",
			err:  &domain.TransportError{Kind: domain.KindNoResponse, Err: errors.New("connection refused")},
			want: "no response from server",
		},
		{
			name: "request setup",
			err:  &domain.TransportError{Kind: domain.KindRequest, Err: errors.New("unsupported protocol scheme")},
			want: "unsupported protocol scheme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, replying(tt.body, tt.err), newFakePreviews())
			require.NoError(t, c.SelectFile(context.Background(), xray))
			require.True(t, c.Submit(context.Background()))

			snap := c.Snapshot()
			assert.Equal(t, domain.StatusError, snap.Status)
			assert.Nil(t, snap.Result)
			assert.Contains(t, strings.ToLower(snap.Error), tt.want)
		})
	}
}

func TestController_RepeatedSelectReleasesPreviousPreview(t *testing.T) {
	previews := newFakePreviews()
	c := newTestController(t, replying(`{}`, nil), previews)

	var urls []string
	for i := 0; i < 4; i++ {
		require.NoError(t, c.SelectFile(context.Background(), xray))
		assert.Equal(t, 1, previews.Live())
		urls = append(urls, c.Snapshot().Preview.URL)
	}
	assert.Equal(t, 1, previews.maxLive)
	assert.Equal(t, 3, previews.released)
	assert.Len(t, uniq(urls), 4)

	c.Reset(context.Background())
	assert.Equal(t, 0, previews.Live())
	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Nil(t, snap.File)
	assert.Nil(t, snap.Preview)
}

func TestController_SelectAfterDoneClearsResult(t *testing.T) {
	c := newTestController(t, replying(`{"primary": "Normal"}`, nil), newFakePreviews())
	require.NoError(t, c.SelectFile(context.Background(), xray))
	c.Submit(context.Background())
	require.NotNil(t, c.Snapshot().Result)

	require.NoError(t, c.SelectFile(context.Background(), xray))
	snap := c.Snapshot()
	assert.Equal(t, domain.StatusReady, snap.Status)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 0, snap.Progress)
}

func TestController_SelectAfterErrorReturnsToReady(t *testing.T) {
	c := newTestController(t, replying("null", nil), newFakePreviews())
	require.NoError(t, c.SelectFile(context.Background(), xray))
	c.Submit(context.Background())
	require.Equal(t, domain.StatusError, c.Snapshot().Status)

	require.NoError(t, c.SelectFile(context.Background(), xray))
	snap := c.Snapshot()
	assert.Equal(t, domain.StatusReady, snap.Status)
	assert.Empty(t, snap.Error)
}

func TestController_SelectWhileUploading(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := newTestController(t, gated(started, release, `{}`), newFakePreviews())
	require.NoError(t, c.SelectFile(context.Background(), xray))

	done := make(chan bool)
	go func() { done <- c.Submit(context.Background()) }()
	<-started

	err := c.SelectFile(context.Background(), xray)
	assert.ErrorIs(t, err, domain.ErrUploadInFlight)
	assert.Equal(t, domain.StatusUploading, c.Snapshot().Status)

	close(release)
	<-done
}

func TestController_EmptyFileStaged(t *testing.T) {
	c := newTestController(t, replying(`{}`, nil), newFakePreviews())
	require.NoError(t, c.SelectFile(context.Background(), domain.File{Name: "empty.png"}))

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusReady, snap.Status)
	require.NotNil(t, snap.File)
	assert.Equal(t, "empty.png", snap.File.Name)
}

func TestController_PreviewFailureLeavesIdle(t *testing.T) {
	previews := newFakePreviews()
	c := newTestController(t, replying(`{}`, nil), previews)
	require.NoError(t, c.SelectFile(context.Background(), xray))

	previews.failNext = errors.New("bucket unavailable")
	err := c.SelectFile(context.Background(), xray)
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Nil(t, snap.File)
	assert.Equal(t, 0, previews.Live())
}

func TestController_ProgressIsMonotonic(t *testing.T) {
	step := make(chan struct{})
	observed := make(chan int)
	var c *Controller
	p := &fakePredictor{fn: func(_ context.Context, _ domain.File, progress domain.ProgressFunc) ([]byte, error) {
		for _, v := range []int{10, 50, 30, 140} {
			progress(v)
			observed <- c.Snapshot().Progress
			<-step
		}
		return []byte(`{}`), nil
	}}
	c = newTestController(t, p, newFakePreviews())
	require.NoError(t, c.SelectFile(context.Background(), xray))

	done := make(chan bool)
	go func() { done <- c.Submit(context.Background()) }()

	var seen []int
	for i := 0; i < 4; i++ {
		seen = append(seen, <-observed)
		step <- struct{}{}
	}
	<-done
	assert.Equal(t, []int{10, 50, 50, 100}, seen)
}

func TestController_ProgressResetsPerAttempt(t *testing.T) {
	var calls int
	var c *Controller
	observed := make(chan int, 4)
	p := &fakePredictor{fn: func(_ context.Context, _ domain.File, progress domain.ProgressFunc) ([]byte, error) {
		calls++
		observed <- c.Snapshot().Progress
		progress(100)
		return nil, &domain.TransportError{Kind: domain.KindServer, StatusCode: 503}
	}}
	c = newTestController(t, p, newFakePreviews())

	for i := 0; i < 2; i++ {
		require.NoError(t, c.SelectFile(context.Background(), xray))
		require.True(t, c.Submit(context.Background()))
		assert.Equal(t, 0, <-observed)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, c.Snapshot().Attempt)
}

func TestController_ResetDuringUploadDropsOutcome(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	previews := newFakePreviews()
	c := newTestController(t, gated(started, release, `{"primary": "Abnormal"}`), previews)
	require.NoError(t, c.SelectFile(context.Background(), xray))

	done := make(chan bool)
	go func() { done <- c.Submit(context.Background()) }()
	<-started

	c.Reset(context.Background())
	assert.Equal(t, 0, previews.Live())

	close(release)
	<-done

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Error)
}

func TestController_Timeout(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	c := NewController("s-2", "user-1", Deps{
		Predictor: gated(started, release, `{}`),
		Previews:  newFakePreviews(),
		Timeout:   20 * time.Millisecond,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, c.SelectFile(context.Background(), xray))
	require.True(t, c.Submit(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, domain.StatusError, snap.Status)
	assert.Contains(t, snap.Error, "No response from server")
}

func TestController_RecordsHistory(t *testing.T) {
	history := &fakeHistory{}
	c := NewController("s-3", "user-7", Deps{
		Predictor: replying(`{"detected_conditions": ["Mass"]}`, nil),
		Previews:  newFakePreviews(),
		History:   history,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, c.SelectFile(context.Background(), xray))
	c.Submit(context.Background())

	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.Equal(t, "user-7", rec.UserID)
	assert.Equal(t, "s-3", rec.SessionID)
	assert.Equal(t, "chest.png", rec.FileName)
	assert.Equal(t, "Abnormal", rec.Result.PrimaryLabel)
	assert.NotEmpty(t, rec.ID)
}

func TestController_SnapshotDoesNotAlias(t *testing.T) {
	c := newTestController(t, replying(`{"predictions": {"Mass": 0.4}}`, nil), newFakePreviews())
	require.NoError(t, c.SelectFile(context.Background(), xray))
	c.Submit(context.Background())

	snap := c.Snapshot()
	snap.Result.Conditions[0].Percentage = 1
	assert.Equal(t, 40, c.Snapshot().Result.Conditions[0].Percentage)
}

func uniq(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}

func TestController_StartRunsInBackground(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := newTestController(t, gated(started, release, `{"predictions": {"Normal": 0.97}}`), newFakePreviews())

	_, ok := c.Start(context.Background())
	assert.False(t, ok, "start from idle must be rejected")

	require.NoError(t, c.SelectFile(context.Background(), xray))
	done, ok := c.Start(context.Background())
	require.True(t, ok)
	assert.Equal(t, domain.StatusUploading, c.Snapshot().Status)

	_, ok = c.Start(context.Background())
	assert.False(t, ok, "second start while uploading must be rejected")

	<-started
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, domain.StatusDone, c.Snapshot().Status)
}

func TestController_StartReportsSupersededAttempt(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := newTestController(t, gated(started, release, `{}`), newFakePreviews())

	require.NoError(t, c.SelectFile(context.Background(), xray))
	done, ok := c.Start(context.Background())
	require.True(t, ok)
	<-started

	c.Reset(context.Background())
	close(release)
	assert.ErrorIs(t, <-done, domain.ErrAttemptSuperseded)
	assert.Equal(t, domain.StatusIdle, c.Snapshot().Status)
}

type fakeFailures struct {
	mu    sync.Mutex
	saved []*domain.Failure
}

func (f *fakeFailures) Save(_ context.Context, e *domain.Failure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, e)
	return nil
}

func (f *fakeFailures) ListBySession(context.Context, string, string, int) ([]*domain.Failure, error) {
	return nil, nil
}

func TestController_RecordsFailures(t *testing.T) {
	failures := &fakeFailures{}
	history := &fakeHistory{}
	c := NewController("s-4", "user-7", Deps{
		Predictor: replying("", &domain.TransportError{Kind: domain.KindServer, StatusCode: 500, Message: "boom"}),
		Previews:  newFakePreviews(),
		History:   history,
		Failures:  failures,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, c.SelectFile(context.Background(), xray))
	c.Submit(context.Background())

	require.Len(t, failures.saved, 1)
	f := failures.saved[0]
	assert.Equal(t, "s-4", f.SessionID)
	assert.Equal(t, 1, f.Attempt)
	assert.Equal(t, domain.KindServer, f.Kind)
	assert.Equal(t, "Server error: 500 - boom", f.Message)
	assert.Empty(t, history.records)
}

func TestController_PreviewIOOutsideLock(t *testing.T) {
	creating := make(chan struct{})
	proceed := make(chan struct{})
	previews := newFakePreviews()
	previews.creating, previews.proceed = creating, proceed
	c := newTestController(t, replying(`{}`, nil), previews)

	done := make(chan error, 1)
	go func() { done <- c.SelectFile(context.Background(), xray) }()
	<-creating

	// a slow store must not block readers
	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Nil(t, snap.File)
	assert.False(t, c.Busy())

	close(proceed)
	require.NoError(t, <-done)
	assert.Equal(t, domain.StatusReady, c.Snapshot().Status)
	assert.Equal(t, 1, previews.Live())
}

func TestController_ResetDuringPreviewCreation(t *testing.T) {
	creating := make(chan struct{})
	proceed := make(chan struct{})
	previews := newFakePreviews()
	previews.creating, previews.proceed = creating, proceed
	c := newTestController(t, replying(`{}`, nil), previews)

	done := make(chan error, 1)
	go func() { done <- c.SelectFile(context.Background(), xray) }()
	<-creating

	c.Reset(context.Background())
	close(proceed)

	assert.ErrorIs(t, <-done, domain.ErrAttemptSuperseded)
	snap := c.Snapshot()
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Nil(t, snap.File)
	assert.Nil(t, snap.Preview)
	assert.Equal(t, 0, previews.Live())
}
