package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sourav-m/portfolio-api/internal/admission"
	"github.com/sourav-m/portfolio-api/internal/analytics"
	"github.com/sourav-m/portfolio-api/internal/log"
	"github.com/sourav-m/portfolio-api/internal/store"
)

// CacheGroupProjects tags every cached view derived from the projects
// table. Any project write invalidates the whole group, mirroring the
// original's evict-all-on-write policy.
const CacheGroupProjects = "projects"

const (
	maxNameLen    = 100
	maxEmailLen   = 255
	maxMessageLen = 5000
)

// API serves the portfolio REST surface: public project reads behind the
// cache, the contact form behind the abuse detector, and JWT-gated admin
// CRUD. Every route goes through the admission service exactly once.
type API struct {
	svc       *admission.Service
	projects  store.ProjectStore
	contacts  store.ContactStore
	analytics *analytics.Collector
	jwtSecret string
}

// NewAPI builds the handler set.
func NewAPI(svc *admission.Service, projects store.ProjectStore, contacts store.ContactStore, collector *analytics.Collector, jwtSecret string) *API {
	return &API{
		svc:       svc,
		projects:  projects,
		contacts:  contacts,
		analytics: collector,
		jwtSecret: jwtSecret,
	}
}

// Routes mounts every endpoint on a fresh mux.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler {
		return RateLimit(a.svc, admission.ClassPublic, nil, h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return RequireAdmin(a.jwtSecret, RateLimit(a.svc, admission.ClassAdmin, AdminKey, h))
	}

	mux.Handle("GET /api/projects", public(a.listProjects))
	mux.Handle("GET /api/projects/{id}", public(a.getProject))
	mux.Handle("POST /api/contact", http.HandlerFunc(a.submitContact))

	mux.Handle("POST /api/admin/projects", admin(a.createProject))
	mux.Handle("PUT /api/admin/projects/{id}", admin(a.updateProject))
	mux.Handle("DELETE /api/admin/projects/{id}", admin(a.deleteProject))
	mux.Handle("GET /api/admin/messages", admin(a.listMessages))
	mux.Handle("POST /api/admin/messages/{id}/read", admin(a.markMessageRead))
	mux.Handle("DELETE /api/admin/messages/{id}", admin(a.deleteMessage))
	mux.Handle("POST /api/admin/cache/clear", admin(a.clearCache))
	mux.Handle("GET /api/admin/analytics", admin(a.analyticsSnapshot))

	return mux
}

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	a.analytics.PageView()

	v, err := a.svc.CachedRead(r.Context(), "projects:all", []string{CacheGroupProjects},
		func(ctx context.Context) (interface{}, error) {
			return a.projects.ListProjects(ctx)
		})
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	projects, _ := v.([]store.Project)
	if projects == nil {
		projects = []store.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	a.analytics.ProjectView()

	key := fmt.Sprintf("project:%d", id)
	v, err := a.svc.CachedRead(r.Context(), key, []string{CacheGroupProjects},
		func(ctx context.Context) (interface{}, error) {
			return a.projects.ProjectByID(ctx, id)
		})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (a *API) submitContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateContact(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	result, err := a.svc.SubmitContact(r.Context(), admission.ContactSubmission{
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Message:   req.Message,
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		a.serverError(w, r, err)
		return
	}

	switch result.Status {
	case admission.SubmitThrottled:
		retrySec := int64(result.RetryAfter.Seconds()) + 1
		w.Header().Set(headerRetryAfter, strconv.FormatInt(retrySec, 10))
		writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
	case admission.SubmitRejected:
		// Deliberately generic: the matched heuristic stays server-side.
		writeError(w, http.StatusBadRequest, "message rejected")
	default:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":      result.MessageID,
			"message": "thanks for reaching out",
		})
	}
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var p store.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(p.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	if _, err := a.projects.CreateProject(r.Context(), &p); err != nil {
		a.serverError(w, r, err)
		return
	}
	a.svc.Invalidate(CacheGroupProjects)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var p store.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.ID = id

	err := a.projects.UpdateProject(r.Context(), &p)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.svc.Invalidate(CacheGroupProjects)
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	err := a.projects.DeleteProject(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.svc.Invalidate(CacheGroupProjects)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.contacts.ListContactMessages(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.ContactMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) markMessageRead(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	err := a.contacts.MarkContactMessageRead(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	err := a.contacts.DeleteContactMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) clearCache(w http.ResponseWriter, r *http.Request) {
	a.svc.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) analyticsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.analytics.Snapshot())
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (a *API) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.analytics.Error()
	log.Logger().Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func validateContact(req contactRequest) string {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	switch {
	case name == "" || len(name) > maxNameLen:
		return "name is required"
	case email == "" || len(email) > maxEmailLen || !strings.Contains(email, "@"):
		return "a valid email is required"
	case strings.TrimSpace(req.Message) == "" || len(req.Message) > maxMessageLen:
		return "message is required"
	}
	return ""
}
