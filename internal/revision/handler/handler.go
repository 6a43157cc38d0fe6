// Package handler exposes the revision query and export API.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"revtrail/internal/revision/export"
	"revtrail/internal/revision/models"
	"revtrail/internal/revision/recorder"
	dErrors "revtrail/pkg/domain-errors"
	"revtrail/pkg/platform/httputil"
	"revtrail/pkg/requestcontext"
)

// Service defines the revision queries the handler depends on.
type Service interface {
	GetByID(ctx context.Context, id int64) (*models.Revision, error)
	ListByEntity(ctx context.Context, entityName string, entityID int64, page models.Page) ([]*models.Revision, error)
	Latest(ctx context.Context, entityName string, entityID int64) (*models.Revision, error)
	ListByUsername(ctx context.Context, username string, page models.Page) ([]*models.Revision, error)
	ListByType(ctx context.Context, t models.Type, page models.Page) ([]*models.Revision, error)
	ListByDateRange(ctx context.Context, from, to time.Time, page models.Page) ([]*models.Revision, error)
	Search(ctx context.Context, c models.SearchCriteria, page models.Page) ([]*models.Revision, error)
	CountByEntity(ctx context.Context, entityName string, entityID int64) (int64, error)
	CountByUsername(ctx context.Context, username string) (int64, error)
	CountByType(ctx context.Context, t models.Type) (int64, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Recorder defines the capture operations the handler depends on.
type Recorder interface {
	RecordInsert(ctx context.Context, entityName string, entityID int64, snap recorder.Snapshot, reason string) (*models.Revision, error)
	RecordUpdate(ctx context.Context, entityName string, entityID int64, oldSnap, newSnap recorder.Snapshot, reason string) (*models.Revision, error)
	RecordDelete(ctx context.Context, entityName string, entityID int64, reason string) (*models.Revision, error)
	RecordRestore(ctx context.Context, entityName string, entityID int64, reason string) (*models.Revision, error)
}

// typeRestore is accepted on the capture endpoint only. Restores are stored
// as UPDATE revisions with the synthetic restore payload, so it never
// appears in query filters.
const typeRestore models.Type = "RESTORE"

// Handler wires revision endpoints to the query service and recorder.
type Handler struct {
	service  Service
	recorder Recorder
	logger   *slog.Logger
}

// New constructs a revision handler.
func New(service Service, rec Recorder, logger *slog.Logger) *Handler {
	return &Handler{service: service, recorder: rec, logger: logger}
}

// Register mounts revision endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/revisions", func(r chi.Router) {
		r.Post("/", h.HandleRecord)
		r.Get("/search", h.HandleSearch)
		r.Get("/export", h.HandleExport)
		r.Get("/stats", h.HandleStats)
		r.Get("/range", h.HandleListByDateRange)
		r.Get("/type/{type}", h.HandleListByType)
		r.Get("/type/{type}/count", h.HandleCountByType)
		r.Get("/user/{username}", h.HandleListByUsername)
		r.Get("/user/{username}/count", h.HandleCountByUsername)
		r.Get("/entity/{entityName}/{entityID}", h.HandleListByEntity)
		r.Get("/entity/{entityName}/{entityID}/latest", h.HandleLatest)
		r.Get("/entity/{entityName}/{entityID}/count", h.HandleCountByEntity)
		r.Get("/{id}", h.HandleGetByID)
	})
}

type recordRequest struct {
	EntityName string            `json:"entityName"`
	EntityID   int64             `json:"entityId"`
	Type       models.Type       `json:"type"`
	Before     recorder.Snapshot `json:"before,omitempty"`
	After      recorder.Snapshot `json:"after,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// HandleRecord handles POST /revisions: capturing a mutation from callers
// that are not wired through the recorder in process. INSERT diffs the after
// snapshot, UPDATE diffs before against after, DELETE and RESTORE need
// neither.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[recordRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var rev *models.Revision
	switch req.Type {
	case models.TypeInsert:
		rev, err = h.recorder.RecordInsert(ctx, req.EntityName, req.EntityID, req.After, req.Reason)
	case models.TypeUpdate:
		rev, err = h.recorder.RecordUpdate(ctx, req.EntityName, req.EntityID, req.Before, req.After, req.Reason)
	case models.TypeDelete:
		rev, err = h.recorder.RecordDelete(ctx, req.EntityName, req.EntityID, req.Reason)
	case typeRestore:
		rev, err = h.recorder.RecordRestore(ctx, req.EntityName, req.EntityID, req.Reason)
	default:
		err = dErrors.Newf(dErrors.CodeValidation, "invalid revision type %q", req.Type)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if rev == nil {
		// An update with no changed fields records nothing.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rev)
}

// HandleGetByID handles GET /revisions/{id}.
func (h *Handler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid revision id"))
		return
	}
	rev, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rev)
}

// HandleListByEntity handles GET /revisions/entity/{entityName}/{entityID}.
func (h *Handler) HandleListByEntity(w http.ResponseWriter, r *http.Request) {
	entityName, entityID, ok := entityParams(w, r)
	if !ok {
		return
	}
	revs, err := h.service.ListByEntity(r.Context(), entityName, entityID, pageFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(revs))
}

// HandleLatest handles GET /revisions/entity/{entityName}/{entityID}/latest.
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	entityName, entityID, ok := entityParams(w, r)
	if !ok {
		return
	}
	rev, err := h.service.Latest(r.Context(), entityName, entityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rev)
}

// HandleCountByEntity handles GET /revisions/entity/{entityName}/{entityID}/count.
func (h *Handler) HandleCountByEntity(w http.ResponseWriter, r *http.Request) {
	entityName, entityID, ok := entityParams(w, r)
	if !ok {
		return
	}
	n, err := h.service.CountByEntity(r.Context(), entityName, entityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, countResponse{Count: n})
}

// HandleListByUsername handles GET /revisions/user/{username}.
func (h *Handler) HandleListByUsername(w http.ResponseWriter, r *http.Request) {
	revs, err := h.service.ListByUsername(r.Context(), chi.URLParam(r, "username"), pageFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(revs))
}

// HandleCountByUsername handles GET /revisions/user/{username}/count.
func (h *Handler) HandleCountByUsername(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CountByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, countResponse{Count: n})
}

// HandleListByType handles GET /revisions/type/{type}.
func (h *Handler) HandleListByType(w http.ResponseWriter, r *http.Request) {
	t, err := models.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	revs, err := h.service.ListByType(r.Context(), t, pageFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(revs))
}

// HandleCountByType handles GET /revisions/type/{type}/count.
func (h *Handler) HandleCountByType(w http.ResponseWriter, r *http.Request) {
	t, err := models.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.service.CountByType(r.Context(), t)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, countResponse{Count: n})
}

// HandleListByDateRange handles GET /revisions/range?from=&to=.
func (h *Handler) HandleListByDateRange(w http.ResponseWriter, r *http.Request) {
	from, to, err := rangeParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	revs, err := h.service.ListByDateRange(r.Context(), from, to, pageFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(revs))
}

// HandleSearch handles GET /revisions/search with optional entityName,
// entityId, username, type, from, and to query parameters.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	criteria, err := searchParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	revs, err := h.service.Search(r.Context(), criteria, pageFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(revs))
}

// HandleStats handles GET /revisions/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleExport handles GET /revisions/export?format=json|csv|xlsx plus the
// search query parameters. The result streams as a file download.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	criteria, err := searchParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	revs, err := h.service.Search(ctx, criteria, pageFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	filename := export.Filename(criteria.EntityName, format, time.Now())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := export.Write(w, format, revs); err != nil {
		h.logger.ErrorContext(ctx, "export failed",
			"request_id", requestcontext.RequestID(ctx),
			"format", string(format),
			"error", err,
		)
	}
}

type countResponse struct {
	Count int64 `json:"count"`
}

func listResponse(revs []*models.Revision) []*models.Revision {
	if revs == nil {
		return []*models.Revision{}
	}
	return revs
}

func entityParams(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	entityName := chi.URLParam(r, "entityName")
	entityID, err := strconv.ParseInt(chi.URLParam(r, "entityID"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid entity id"))
		return "", 0, false
	}
	return entityName, entityID, true
}

func pageFrom(r *http.Request) models.Page {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return models.NewPage(offset, limit)
}

func rangeParams(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, dErrors.New(dErrors.CodeBadRequest, "invalid from timestamp")
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, dErrors.New(dErrors.CodeBadRequest, "invalid to timestamp")
	}
	return from, to, nil
}

func searchParams(r *http.Request) (models.SearchCriteria, error) {
	q := r.URL.Query()
	var c models.SearchCriteria
	c.EntityName = q.Get("entityName")
	c.Username = q.Get("username")

	if raw := q.Get("entityId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c, dErrors.New(dErrors.CodeBadRequest, "invalid entity id")
		}
		c.EntityID = id
	}
	if raw := q.Get("type"); raw != "" {
		t, err := models.ParseType(raw)
		if err != nil {
			return c, err
		}
		c.Type = t
	}
	var err error
	if c.From, err = parseTime(q.Get("from")); err != nil {
		return c, dErrors.New(dErrors.CodeBadRequest, "invalid from timestamp")
	}
	if c.To, err = parseTime(q.Get("to")); err != nil {
		return c, dErrors.New(dErrors.CodeBadRequest, "invalid to timestamp")
	}
	return c, nil
}

// parseTime accepts RFC3339 or epoch milliseconds; empty means unset.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}
