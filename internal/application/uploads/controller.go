package uploads

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/xray-analyzer/internal/application"
	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

// DefaultTimeout bounds one prediction request.
const DefaultTimeout = 30 * time.Second

// Deps are the collaborators shared by every session.
// History and Failures are optional; when set, settled attempts are journaled.
type Deps struct {
	Predictor domain.Predictor
	Previews  domain.PreviewStore
	History   analysis.Repository
	Failures  domain.FailureRepository
	Clock     application.Clock
	Timeout   time.Duration
	Logger    *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = application.SystemClock{}
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// Controller owns the lifecycle of one upload session:
// idle → ready → uploading → done | error.
// It is safe for concurrent use; at most one request is in flight at a time.
type Controller struct {
	id    domain.SessionID
	owner string
	deps  Deps
	log   *zap.Logger

	mu       sync.Mutex
	gen      uint64 // bumped by every Submit, SelectFile and Reset
	status   domain.Status
	progress int
	attempt  int
	file     *domain.File
	preview  *domain.Preview
	result   *analysis.AnalysisResult
	errMsg   string
	updated  time.Time
}

func NewController(id domain.SessionID, owner string, deps Deps) *Controller {
	deps = deps.withDefaults()
	return &Controller{
		id:      id,
		owner:   owner,
		deps:    deps,
		log:     deps.Logger.With(zap.String("session", string(id))),
		status:  domain.StatusIdle,
		updated: deps.Clock.Now(),
	}
}

func (c *Controller) ID() domain.SessionID { return c.id }

func (c *Controller) Owner() string { return c.owner }

// SelectFile stages f and creates its preview, releasing any prior one first.
// It is rejected while an upload is in flight. Preview I/O runs without the
// lock; the session stays idle until the new preview is attached.
func (c *Controller) SelectFile(ctx context.Context, f domain.File) error {
	c.mu.Lock()
	if c.status == domain.StatusUploading {
		c.mu.Unlock()
		return domain.ErrUploadInFlight
	}
	c.gen++
	gen := c.gen
	old := c.detachLocked()
	c.setStatusLocked(domain.StatusIdle)
	c.mu.Unlock()

	c.releasePreview(ctx, old)

	p, err := c.deps.Previews.Create(ctx, c.id, f)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		// a Reset or a newer SelectFile got in first
		c.releasePreview(ctx, &p)
		return domain.ErrAttemptSuperseded
	}
	c.file = &f
	c.preview = &p
	c.setStatusLocked(domain.StatusReady)
	c.mu.Unlock()

	c.log.Debug("file staged", zap.String("file", f.Name), zap.Int64("size", f.Size()))
	return nil
}

// Submit sends the staged file and blocks until the attempt settles.
// It returns false without touching the session unless the session is ready.
func (c *Controller) Submit(ctx context.Context) bool {
	a, ok := c.begin()
	if !ok {
		return false
	}
	c.run(ctx, a)
	return true
}

// Start is Submit without blocking: the ready → uploading transition happens
// before it returns and the request runs in its own goroutine. The channel
// receives the attempt's outcome (nil on success) once it settles.
func (c *Controller) Start(ctx context.Context) (<-chan error, bool) {
	a, ok := c.begin()
	if !ok {
		return nil, false
	}
	out := make(chan error, 1)
	go func() { out <- c.run(ctx, a) }()
	return out, true
}

type attempt struct {
	gen  uint64
	n    int
	file domain.File
}

func (c *Controller) begin() (attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.StatusReady || c.file == nil {
		return attempt{}, false
	}
	c.gen++
	c.attempt++
	c.progress = 0
	c.setStatusLocked(domain.StatusUploading)
	return attempt{gen: c.gen, n: c.attempt, file: *c.file}, true
}

func (c *Controller) run(ctx context.Context, a attempt) error {
	start := c.deps.Clock.Now()
	c.log.Info("upload started", zap.Int("attempt", a.n), zap.String("file", a.file.Name))

	reqCtx, cancel := context.WithTimeout(ctx, c.deps.Timeout)
	defer cancel()

	body, err := c.deps.Predictor.Predict(reqCtx, a.file, func(p int) {
		c.applyProgress(a.gen, p)
	})
	var res analysis.AnalysisResult
	if err == nil {
		res, err = normalizeBody(body)
	}

	if !c.finish(a.gen, res, err) {
		c.log.Info("upload outcome dropped, session moved on", zap.Int("attempt", a.n))
		return domain.ErrAttemptSuperseded
	}

	fields := []zap.Field{
		zap.Int("attempt", a.n),
		zap.Duration("duration", c.deps.Clock.Now().Sub(start)),
	}
	if err != nil {
		c.log.Warn("upload failed", append(fields, zap.Error(err))...)
		c.recordFailure(ctx, a, err)
		return err
	}
	c.log.Info("upload done", append(fields, zap.Stringer("result", res))...)
	c.record(ctx, a.file, res)
	return nil
}

// Reset releases the preview and returns the session to idle.
// An in-flight attempt is orphaned and its outcome dropped.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	old := c.detachLocked()
	c.setStatusLocked(domain.StatusIdle)
	c.mu.Unlock()

	c.releasePreview(ctx, old)
}

// Close is Reset under the name the registry uses when evicting.
func (c *Controller) Close(ctx context.Context) { c.Reset(ctx) }

// Snapshot returns a copy safe to hand to the display layer.
func (c *Controller) Snapshot() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := domain.Session{
		ID:        c.id,
		Owner:     c.owner,
		Status:    c.status,
		Progress:  c.progress,
		Attempt:   c.attempt,
		Error:     c.errMsg,
		UpdatedAt: c.updated,
	}
	if c.file != nil {
		info := c.file.Info()
		s.File = &info
	}
	if c.preview != nil {
		p := *c.preview
		s.Preview = &p
	}
	if c.result != nil {
		r := c.result.Clone()
		s.Result = &r
	}
	return s
}

// Busy reports whether a request is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == domain.StatusUploading
}

// LastActivity is the time of the last state change.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updated
}

func (c *Controller) applyProgress(gen uint64, p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != domain.StatusUploading {
		return
	}
	if p > c.progress {
		c.progress = p
	}
}

// finish applies the outcome of attempt gen; false when the attempt was superseded.
func (c *Controller) finish(gen uint64, res analysis.AnalysisResult, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.status != domain.StatusUploading {
		return false
	}
	if err != nil {
		c.result = nil
		c.errMsg = domain.UserMessage(err)
		c.setStatusLocked(domain.StatusError)
		return true
	}
	c.errMsg = ""
	c.result = &res
	c.progress = 100
	c.setStatusLocked(domain.StatusDone)
	return true
}

func (c *Controller) record(ctx context.Context, f domain.File, res analysis.AnalysisResult) {
	if c.deps.History == nil || c.owner == "" {
		return
	}
	rec := &analysis.Record{
		ID:        analysis.RecordID(uuid.New().String()),
		UserID:    c.owner,
		SessionID: string(c.id),
		FileName:  f.Name,
		Result:    res.Clone(),
		CreatedAt: c.deps.Clock.Now(),
	}
	if err := c.deps.History.Save(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warn("failed to save analysis history", zap.Error(err))
	}
}

func (c *Controller) recordFailure(ctx context.Context, a attempt, err error) {
	if c.deps.Failures == nil || c.owner == "" {
		return
	}
	f := domain.NewFailure(c.owner, c.id, a.n, a.file.Name, err, c.deps.Clock.Now())
	if serr := c.deps.Failures.Save(context.WithoutCancel(ctx), f); serr != nil {
		c.log.Warn("failed to save upload failure", zap.Error(serr))
	}
}

// detachLocked clears the staged file and outcome and hands back the
// preview for the caller to release once the lock is dropped.
func (c *Controller) detachLocked() *domain.Preview {
	p := c.preview
	c.preview = nil
	c.file = nil
	c.result = nil
	c.errMsg = ""
	c.progress = 0
	return p
}

func (c *Controller) releasePreview(ctx context.Context, p *domain.Preview) {
	if p == nil {
		return
	}
	if err := c.deps.Previews.Release(ctx, *p); err != nil {
		c.log.Warn("failed to release preview", zap.String("key", p.Key), zap.Error(err))
	}
}

func (c *Controller) setStatusLocked(s domain.Status) {
	c.status = s
	c.updated = c.deps.Clock.Now()
}

// normalizeBody rejects empty and null bodies before handing off to the normalizer.
func normalizeBody(body []byte) (analysis.AnalysisResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return analysis.AnalysisResult{}, domain.ErrEmptyResponse
	}
	return analysis.Normalize(trimmed)
}
