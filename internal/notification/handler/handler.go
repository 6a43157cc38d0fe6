// Package handler exposes the notification admin API: test sends, settings
// and recipient management, custom notifications, delivery status, and
// aggregate statistics.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"revtrail/internal/event"
	"revtrail/internal/notification/cache"
	"revtrail/internal/notification/models"
	"revtrail/internal/notification/sender"
	"revtrail/internal/notification/settings"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	dErrors "revtrail/pkg/domain-errors"
	"revtrail/pkg/platform/httputil"
	"revtrail/pkg/requestcontext"
)

// Handler wires the notification admin endpoints.
type Handler struct {
	sender    *sender.Sender
	settings  *settings.Settings
	validator *validator.Validator
	cache     *cache.Cache
	logger    *slog.Logger
}

// New constructs a notification handler.
func New(s *sender.Sender, st *settings.Settings, v *validator.Validator, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{sender: s, settings: st, validator: v, cache: c, logger: logger}
}

// Register mounts notification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/test", h.HandleTest)
		r.Post("/custom", h.HandleCustom)
		r.Get("/settings", h.HandleGetSettings)
		r.Put("/settings", h.HandleUpdateSettings)
		r.Put("/recipients/{role}", h.HandleSetRecipients)
		r.Get("/stats", h.HandleStats)
		r.Get("/deliveries", h.HandleListDeliveries)
		r.Get("/deliveries/{id}", h.HandleGetDelivery)
	})
}

type testRequest struct {
	Recipients []string `json:"recipients"`
}

type sendResponse struct {
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
}

// HandleTest handles POST /notifications/test: a test email to explicit
// recipients, bypassing severity-based resolution.
func (h *Handler) HandleTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[testRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	d, err := h.sender.Send(ctx, sender.Request{
		Type:       event.TypeSystemAlert,
		Severity:   event.SeverityInfo,
		Recipients: req.Recipients,
		Subject:    "Test notification",
		Template:   template.TemplateTest,
		Data: map[string]any{
			"Username":  requestcontext.Username(ctx),
			"Timestamp": requestcontext.Now(ctx).UTC().Format("2006-01-02 15:04:05 UTC"),
		},
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if d == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeConfiguration, "email notifications are disabled"))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, sendResponse{NotificationID: d.ID, Status: string(models.StatusPending)})
}

type customRequest struct {
	Recipients []string       `json:"recipients"`
	Severity   event.Severity `json:"severity"`
	Subject    string         `json:"subject"`
	Content    string         `json:"content"`
}

// HandleCustom handles POST /notifications/custom: an arbitrary message to
// explicit recipients, or to the severity's role when none are given.
func (h *Handler) HandleCustom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[customRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sev := req.Severity
	if sev == "" {
		sev = event.SeverityInfo
	}
	recipients := req.Recipients
	if len(recipients) == 0 {
		if recipients, err = h.validator.ResolveRecipients(sev); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	d, err := h.sender.Send(ctx, sender.Request{
		Type:       event.TypeSystemAlert,
		Severity:   sev,
		Recipients: recipients,
		Subject:    req.Subject,
		Template:   template.TemplateCustom,
		Data:       map[string]any{"Content": req.Content},
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if d == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeConfiguration, "email notifications are disabled"))
		return
	}
	h.logger.InfoContext(ctx, "custom notification accepted",
		"request_id", requestcontext.RequestID(ctx),
		"notification_id", d.ID,
		"severity", sev,
		"recipients", len(recipients),
	)
	httputil.WriteJSON(w, http.StatusAccepted, sendResponse{NotificationID: d.ID, Status: string(models.StatusPending)})
}

// HandleGetSettings handles GET /notifications/settings.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.settings.View())
}

// HandleUpdateSettings handles PUT /notifications/settings with a full
// snapshot. Cached recipient resolutions are evicted.
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := httputil.Decode[settings.Snapshot](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	for role, recipients := range snap.Recipients {
		if len(recipients) == 0 {
			continue
		}
		if err := h.validator.ValidateRecipients(recipients); err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid recipients for role "+string(role)))
			return
		}
	}
	if err := h.settings.Update(snap); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.cache.EvictRecipients()
	httputil.WriteJSON(w, http.StatusOK, h.settings.View())
}

type recipientsRequest struct {
	Recipients []string `json:"recipients"`
}

// HandleSetRecipients handles PUT /notifications/recipients/{role}.
func (h *Handler) HandleSetRecipients(w http.ResponseWriter, r *http.Request) {
	role := models.Role(chi.URLParam(r, "role"))
	req, err := httputil.Decode[recipientsRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if len(req.Recipients) > 0 {
		if err := h.validator.ValidateRecipients(req.Recipients); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if err := h.settings.SetRecipients(role, req.Recipients); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.cache.EvictRecipients()
	httputil.WriteJSON(w, http.StatusOK, h.settings.View())
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.sender.Stats())
}

// HandleListDeliveries handles GET /notifications/deliveries.
func (h *Handler) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries := h.cache.Deliveries()
	if deliveries == nil {
		deliveries = []models.DeliveryStatus{}
	}
	httputil.WriteJSON(w, http.StatusOK, deliveries)
}

// HandleGetDelivery handles GET /notifications/deliveries/{id}.
func (h *Handler) HandleGetDelivery(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.cache.Delivery(chi.URLParam(r, "id"))
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown delivery id"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ds)
}
