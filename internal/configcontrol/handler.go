package configcontrol

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/httputil"
)

// BounceRecorder records undeliverable email addresses.
type BounceRecorder interface {
	RecordBounce(ctx context.Context, address string) error
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidPatch, Status: http.StatusBadRequest, Code: "INVALID_PATCH"},
	{Error: ErrInvalidSuppression, Status: http.StatusBadRequest, Code: "INVALID_SUPPRESSION"},
}

// Handler handles HTTP requests for notification configs.
type Handler struct {
	service         *Service
	bounces         BounceRecorder
	bounceReporters []string
	validator       *validator.Validate
}

// NewHandler creates a new config control handler. bounces may be nil when
// email is not configured. Only callers whose token subject is listed in
// bounceReporters may report bounces.
func NewHandler(service *Service, bounces BounceRecorder, bounceReporters []string) *Handler {
	return &Handler{
		service:         service,
		bounces:         bounces,
		bounceReporters: bounceReporters,
		validator:       validator.New(),
	}
}

// RegisterRoutes registers routes for authenticated callers.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/vehicles/{vehicleID}/contacts/{contactID}/configs", func(r chi.Router) {
		r.Get("/", h.GetConfigs)
		r.Patch("/", h.PatchConfigs)
	})
	r.With(httputil.RequireSubject(h.bounceReporters...)).Post("/email/bounces", h.RecordBounces)
}

// ChannelRequest is one channel in a config patch.
type ChannelRequest struct {
	Type         string   `json:"type" validate:"required,oneof=SMS EMAIL PUSH BROWSER IVM"`
	Enabled      bool     `json:"enabled"`
	Provider     string   `json:"provider" validate:"max=64"`
	Destinations []string `json:"destinations" validate:"max=20,dive,required,max=320"`
	ServiceID    string   `json:"service_id" validate:"max=255"`
}

// ConfigPatchRequest is the patch for one config group.
type ConfigPatchRequest struct {
	Group       string                    `json:"group" validate:"required,max=64"`
	Enabled     *bool                     `json:"enabled"`
	Locale      string                    `json:"locale" validate:"max=35"`
	Channels    []ChannelRequest          `json:"channels" validate:"dive"`
	Suppression *domain.SuppressionConfig `json:"suppression"`
}

// PatchConfigsRequest represents the request body for patching configs.
type PatchConfigsRequest struct {
	Configs []ConfigPatchRequest `json:"configs" validate:"required,min=1,max=32,dive"`
}

// ToDomain converts the request to config patches.
func (r *PatchConfigsRequest) ToDomain() []domain.NotificationConfig {
	out := make([]domain.NotificationConfig, 0, len(r.Configs))
	for _, c := range r.Configs {
		cfg := domain.NotificationConfig{
			Group:       c.Group,
			Enabled:     c.Enabled,
			Locale:      c.Locale,
			Suppression: c.Suppression,
		}
		for _, ch := range c.Channels {
			cfg.Channels = append(cfg.Channels, domain.Channel{
				Type:         domain.ChannelType(ch.Type),
				Enabled:      ch.Enabled,
				Provider:     ch.Provider,
				Destinations: ch.Destinations,
				ServiceID:    ch.ServiceID,
			})
		}
		out = append(out, cfg)
	}
	return out
}

// RecordBouncesRequest represents the request body for reporting bounces.
type RecordBouncesRequest struct {
	Addresses []string `json:"addresses" validate:"required,min=1,max=100,dive,email"`
}

// GetConfigs handles GET /vehicles/{vehicleID}/contacts/{contactID}/configs.
func (h *Handler) GetConfigs(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	if userID == "" {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	configs, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "vehicleID"), chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if configs == nil {
		configs = []domain.NotificationConfig{}
	}

	httputil.Success(w, http.StatusOK, configs)
}

// PatchConfigs handles PATCH /vehicles/{vehicleID}/contacts/{contactID}/configs.
func (h *Handler) PatchConfigs(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	if userID == "" {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PatchConfigsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.Apply(r.Context(), userID, chi.URLParam(r, "vehicleID"), chi.URLParam(r, "contactID"), req.ToDomain())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// RecordBounces handles POST /email/bounces.
func (h *Handler) RecordBounces(w http.ResponseWriter, r *http.Request) {
	if h.bounces == nil {
		httputil.Error(w, http.StatusNotImplemented, "email is not configured")
		return
	}

	var req RecordBouncesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	for _, addr := range req.Addresses {
		if err := h.bounces.RecordBounce(r.Context(), addr); err != nil {
			httputil.HandleError(r.Context(), w, err, nil)
			return
		}
	}

	httputil.Success(w, http.StatusAccepted, map[string]int{"recorded": len(req.Addresses)})
}

