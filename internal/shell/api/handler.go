// Package api provides HTTP handlers for the layerpack API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/layerpack/internal/core/domain"
	coreretention "github.com/artpar/layerpack/internal/core/retention"
	apimw "github.com/artpar/layerpack/internal/shell/api/middleware"
	"github.com/artpar/layerpack/internal/shell/composer"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// maxBodyBytes bounds request bodies; they only carry small option objects.
const maxBodyBytes = 1 << 20

// Composer is the set of operations the API exposes.
type Composer interface {
	Merge(ctx context.Context, req composer.MergeRequest) (*domain.MergeResult, error)
	Plan(ctx context.Context, tenant string) (*composer.PlanResult, error)
	GetRuntimePackage(ctx context.Context, tenant string) (*composer.RuntimePackage, error)
	ListReworkFiles(ctx context.Context, tenant string) ([]domain.ReworkFile, error)
	ResolveRework(ctx context.Context, tenant, relativePath string) error
	ListSnapshots(ctx context.Context, tenant string) ([]domain.Snapshot, error)
	GetSnapshot(ctx context.Context, tenant, version string) (domain.Snapshot, error)
	ApplyRetention(ctx context.Context, tenant string, overrides *domain.PolicyOverrides) (*domain.RetentionResult, error)
	PlanRetention(ctx context.Context, tenant string, overrides *domain.PolicyOverrides) (coreretention.Plan, error)
	ListTenants(ctx context.Context) ([]string, error)
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	composer Composer
	storage  string
	token    string
	logger   *slog.Logger
}

// Config configures a Handler.
type Config struct {
	// Storage describes the backend in health responses.
	Storage string
	// Token, when set, is required on mutating requests.
	Token  string
	Logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(c Composer, cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		composer: c,
		storage:  cfg.Storage,
		token:    cfg.Token,
		logger:   l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	r.Get("/health", h.handleHealth)

	guard := apimw.RequireToken(apimw.TokenConfig{Token: h.token, Logger: h.logger})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tenants", h.handleListTenants)

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/plan", h.handlePlan)
			r.Get("/runtime", h.handleGetRuntime)
			r.Get("/rework", h.handleListRework)
			r.Get("/snapshots", h.handleListSnapshots)
			r.Get("/snapshots/{version}", h.handleGetSnapshot)
			r.Get("/retention", h.handlePlanRetention)

			r.Group(func(r chi.Router) {
				r.Use(guard)
				r.Post("/merge", h.handleMerge)
				r.Post("/retention", h.handleApplyRetention)
				r.Delete("/rework/*", h.handleResolveRework)
			})
		})
	})

	return r
}

// jsonContentType sets the Content-Type header for all responses.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Storage: h.storage})
}

// =============================================================================
// Tenant Handlers
// =============================================================================

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.composer.ListTenants(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "list tenants", err)
		return
	}
	h.writeJSON(w, http.StatusOK, TenantsResponse{Tenants: tenants})
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req MergeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	result, err := h.composer.Merge(r.Context(), composer.MergeRequest{
		Tenant:        tenant,
		BaseVersion:   req.BaseVersion,
		Policy:        req.Policy,
		SkipSnapshot:  req.SkipSnapshot,
		SkipRetention: req.SkipRetention,
	})
	if err != nil && result != nil {
		// Aborted pass: the result explains what happened.
		h.logger.Error("merge aborted", "tenant", tenant, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	if err != nil {
		h.writeDomainError(w, r, "merge", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.composer.Plan(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.writeDomainError(w, r, "plan", err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleGetRuntime(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.composer.GetRuntimePackage(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.writeDomainError(w, r, "get runtime", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pkg)
}

// =============================================================================
// Rework Handlers
// =============================================================================

func (h *Handler) handleListRework(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	files, err := h.composer.ListReworkFiles(r.Context(), tenant)
	if err != nil {
		h.writeDomainError(w, r, "list rework", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ReworkResponse{Tenant: tenant, Files: files})
}

func (h *Handler) handleResolveRework(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if err := h.composer.ResolveRework(r.Context(), tenant, chi.URLParam(r, "*")); err != nil {
		h.writeDomainError(w, r, "resolve rework", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Snapshot Handlers
// =============================================================================

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	snaps, err := h.composer.ListSnapshots(r.Context(), tenant)
	if err != nil {
		h.writeDomainError(w, r, "list snapshots", err)
		return
	}
	h.writeJSON(w, http.StatusOK, SnapshotsResponse{Tenant: tenant, Snapshots: snaps})
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.composer.GetSnapshot(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "version"))
	if err != nil {
		h.writeDomainError(w, r, "get snapshot", err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// =============================================================================
// Retention Handlers
// =============================================================================

func (h *Handler) handlePlanRetention(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	plan, err := h.composer.PlanRetention(r.Context(), tenant, nil)
	if err != nil {
		h.writeDomainError(w, r, "plan retention", err)
		return
	}
	h.writeJSON(w, http.StatusOK, retentionPlanResponse(tenant, plan))
}

func (h *Handler) handleApplyRetention(w http.ResponseWriter, r *http.Request) {
	var req RetentionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	result, err := h.composer.ApplyRetention(r.Context(), chi.URLParam(r, "tenant"), req.Policy)
	if err != nil {
		h.writeDomainError(w, r, "apply retention", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// Helpers
// =============================================================================

// decodeOptional decodes a JSON body into v. An empty body leaves v
// untouched. It writes the error response and returns false on failure.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "validation_error")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTenant),
		errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrInvalidPolicy),
		errors.Is(err, storage.ErrInvalidPath):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	case errors.Is(err, domain.ErrNoRuntime),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, domain.ErrDuplicateSnapshot):
		h.writeError(w, http.StatusConflict, err.Error(), "conflict")
	default:
		h.logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to "+op, "internal_error")
	}
}
