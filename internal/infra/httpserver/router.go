package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appaccounts "github.com/bryanwahyu/xray-analyzer/internal/application/accounts"
	appuploads "github.com/bryanwahyu/xray-analyzer/internal/application/uploads"
	"github.com/bryanwahyu/xray-analyzer/internal/domain/accounts"
	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
	"github.com/bryanwahyu/xray-analyzer/internal/middleware"
)

const (
	DefaultMaxUploadBytes = 20 << 20
	DefaultFileField      = "image"
)

// PreviewOpener serves preview bytes kept in process.
type PreviewOpener interface {
	Open(key string) ([]byte, string, error)
}

type Deps struct {
	Accounts *appaccounts.Service
	Sessions *appuploads.Registry
	History  analysis.Repository // nil disables /v1/analyses
	Failures domain.FailureRepository
	Previews PreviewOpener       // nil when previews live in object storage
	Metrics  *middleware.Metrics
	Limiter  *middleware.RateLimiter
	Health   *middleware.Health
	Origins  []string
	Log      *zap.Logger

	// BaseContext parents background uploads; cancel it on shutdown.
	BaseContext    context.Context
	MaxUploadBytes int64
	FileField      string
}

type Router struct {
	d   Deps
	log *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = middleware.NewMetrics()
	}
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if d.FileField == "" {
		d.FileField = DefaultFileField
	}
	if len(d.Origins) == 0 {
		d.Origins = []string{"*"}
	}
	r := &Router{d: d, log: d.Log}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:         300,
	}))
	mux.Use(middleware.Logging(d.Log))
	mux.Use(d.Metrics.Middleware)

	health := &middleware.Health{}
	if d.Health != nil {
		h := *d.Health
		health = &h
	}
	if health.Sessions == nil && d.Sessions != nil {
		health.Sessions = d.Sessions
	}
	mux.Get("/health", health.Handler)
	mux.Get("/healthz", middleware.Liveness)
	mux.Get("/readyz", health.Ready)
	mux.Get("/metrics", d.Metrics.Handler)

	// previews are addressed by unguessable keys, like object URLs
	mux.Get("/v1/previews/{key}", r.wrap(r.handlePreview))

	mux.Route("/v1", func(rt chi.Router) {
		if d.Limiter != nil {
			rt.Use(d.Limiter.Middleware)
		}
		rt.Post("/accounts/signup", r.wrap(r.handleSignup))
		rt.Post("/accounts/login", r.wrap(r.handleLogin))
		rt.Post("/accounts/federated", r.wrap(r.handleFederated))

		rt.Group(func(rt chi.Router) {
			rt.Use(middleware.BearerAuth(d.Accounts))
			rt.Post("/accounts/logout", r.wrap(r.handleLogout))

			rt.Post("/sessions", r.wrap(r.handleCreateSession))
			rt.Route("/sessions/{id}", func(rt chi.Router) {
				rt.Get("/", r.wrap(r.handleGetSession))
				rt.Delete("/", r.wrap(r.handleDeleteSession))
				rt.Put("/file", r.wrap(r.handleSelectFile))
				rt.Post("/submit", r.wrap(r.handleSubmit))
				rt.Post("/reset", r.wrap(r.handleReset))
				rt.Get("/failures", r.wrap(r.handleFailures))
			})
			rt.Get("/analyses", r.wrap(r.handleAnalyses))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

var errNotReady = errors.New("session is not ready for submission")

// badRequest marks client input errors.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func invalid(format string, args ...any) error { return badRequest{msg: fmt.Sprintf(format, args...)} }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var (
			br     badRequest
			accErr *accounts.Error
			tooBig *http.MaxBytesError
		)
		switch {
		case errors.As(err, &br):
			writeJSON(w, http.StatusBadRequest, errorBody(err))
		case errors.As(err, &tooBig):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err))
		case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, errPreviewNotFound):
			writeJSON(w, http.StatusNotFound, errorBody(err))
		case errors.Is(err, domain.ErrUploadInFlight), errors.Is(err, domain.ErrAttemptSuperseded), errors.Is(err, errNotReady):
			writeJSON(w, http.StatusConflict, errorBody(err))
		case errors.Is(err, accounts.ErrUnauthorized):
			writeJSON(w, http.StatusUnauthorized, errorBody(err))
		case errors.As(err, &accErr):
			code := http.StatusUnauthorized
			if accErr.Op == "Signup" {
				code = http.StatusBadRequest
			}
			writeJSON(w, code, errorBody(err))
		default:
			r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorBody(err))
		}
	}
}

func errorBody(err error) map[string]string { return map[string]string{"error": err.Error()} }

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func decodeBody(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return invalid("invalid JSON body: %v", err)
	}
	return nil
}

// POST /v1/accounts/signup
func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	body.Username = middleware.SanitizeString(body.Username)
	body.Email = middleware.SanitizeString(body.Email)
	if err := middleware.ValidateUsername(body.Username); err != nil {
		return invalid("%v", err)
	}
	if err := middleware.ValidateEmail(body.Email); err != nil {
		return invalid("%v", err)
	}
	if err := middleware.ValidatePassword(body.Password); err != nil {
		return invalid("%v", err)
	}

	res, err := r.d.Accounts.Signup(req.Context(), appaccounts.SignupCommand{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, res)
}

// POST /v1/accounts/login
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateEmail(body.Email); err != nil {
		return invalid("%v", err)
	}
	if body.Password == "" {
		return invalid("password cannot be empty")
	}

	res, err := r.d.Accounts.Login(req.Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/accounts/federated
// Body: {"provider": "google.com", "id_token": "...", "request_uri": "..."}
func (r *Router) handleFederated(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Provider   string `json:"provider"`
		IDToken    string `json:"id_token"`
		RequestURI string `json:"request_uri"`
	}
	if err := decodeBody(req, &body); err != nil {
		return err
	}

	res, err := r.d.Accounts.LoginFederated(req.Context(), appaccounts.FederatedCommand{
		ProviderID: body.Provider,
		IDToken:    body.IDToken,
		RequestURI: body.RequestURI,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/accounts/logout
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) error {
	r.d.Accounts.Logout(middleware.GetTokenFromContext(req.Context()))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/sessions
func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) error {
	c := r.d.Sessions.Create(middleware.GetUserFromContext(req.Context()))
	return writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (r *Router) session(req *http.Request) (*appuploads.Controller, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		return nil, domain.ErrSessionNotFound
	}
	return r.d.Sessions.Get(middleware.GetUserFromContext(req.Context()), domain.SessionID(id))
}

// GET /v1/sessions/{id}
func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) error {
	c, err := r.session(req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c.Snapshot())
}

// DELETE /v1/sessions/{id}
func (r *Router) handleDeleteSession(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := r.d.Sessions.Delete(req.Context(), middleware.GetUserFromContext(req.Context()), domain.SessionID(id)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// PUT /v1/sessions/{id}/file (multipart, field "image")
func (r *Router) handleSelectFile(w http.ResponseWriter, req *http.Request) error {
	c, err := r.session(req)
	if err != nil {
		return err
	}

	req.Body = http.MaxBytesReader(w, req.Body, r.d.MaxUploadBytes)
	if err := req.ParseMultipartForm(r.d.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return invalid("invalid multipart body: %v", err)
	}
	defer req.MultipartForm.RemoveAll()

	file, hdr, err := req.FormFile(r.d.FileField)
	if err != nil {
		return invalid("missing file field %q", r.d.FileField)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	ct := hdr.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}

	f := domain.File{Name: middleware.SanitizeString(hdr.Filename), ContentType: ct, Data: data}
	if err := c.SelectFile(req.Context(), f); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c.Snapshot())
}

// POST /v1/sessions/{id}/submit
// Jalan di background; client polling GET /v1/sessions/{id}
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	c, err := r.session(req)
	if err != nil {
		return err
	}

	done, ok := c.Start(r.d.BaseContext)
	if !ok {
		return errNotReady
	}
	r.d.Metrics.UploadStarted()
	go func() {
		err := <-done
		r.d.Metrics.UploadFinished(err == nil)
	}()

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"session":    c.Snapshot(),
		"acceptedAt": time.Now(),
	})
}

// POST /v1/sessions/{id}/reset
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	c, err := r.session(req)
	if err != nil {
		return err
	}
	c.Reset(req.Context())
	return writeJSON(w, http.StatusOK, c.Snapshot())
}

// GET /v1/sessions/{id}/failures?limit=
func (r *Router) handleFailures(w http.ResponseWriter, req *http.Request) error {
	c, err := r.session(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list := []*domain.Failure{}
	if r.d.Failures != nil {
		list, err = r.d.Failures.ListBySession(req.Context(), c.Owner(), string(c.ID()), middleware.ValidateLimit(limit))
		if err != nil {
			return err
		}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/analyses?page=&page_size=
func (r *Router) handleAnalyses(w http.ResponseWriter, req *http.Request) error {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	page = middleware.ValidatePage(page)
	size = middleware.ValidateLimit(size)

	list := []*analysis.Record{}
	if r.d.History != nil {
		var err error
		list, err = r.d.History.Paginate(req.Context(), middleware.GetUserFromContext(req.Context()), page, size)
		if err != nil {
			return err
		}
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"page":      page,
		"page_size": size,
		"items":     list,
	})
}

var errPreviewNotFound = errors.New("preview not found")

// GET /v1/previews/{key}
func (r *Router) handlePreview(w http.ResponseWriter, req *http.Request) error {
	if r.d.Previews == nil {
		return errPreviewNotFound
	}
	data, ct, err := r.d.Previews.Open(chi.URLParam(req, "key"))
	if err != nil {
		return errPreviewNotFound
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, err = w.Write(data)
	return err
}
