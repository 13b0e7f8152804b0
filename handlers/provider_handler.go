package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/manager"
	"github.com/switchboard-ai/switchboard/providers"
	"github.com/switchboard-ai/switchboard/utils"
)

// RegisterProviderRequest is the payload for adding a provider at
// runtime.
type RegisterProviderRequest struct {
	Name    string `json:"name" validate:"required"`
	APIKey  string `json:"api_key" validate:"required"`
	BaseURL string `json:"base_url,omitempty"`
	OrgID   string `json:"org_id,omitempty"`
}

// ProviderView is the read model returned for one provider.
type ProviderView struct {
	Name    string               `json:"name"`
	Default bool                 `json:"default"`
	Health  manager.HealthRecord `json:"health"`
	Info    providers.Info       `json:"info"`
}

// ProviderHandler handles provider management requests.
type ProviderHandler struct {
	manager *manager.Manager
	logger  observability.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(m *manager.Manager, logger observability.Logger) *ProviderHandler {
	return &ProviderHandler{manager: m, logger: logger}
}

// HandleList handles GET /api/v1/providers
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	defaultName := h.manager.DefaultProvider()

	views := make([]ProviderView, 0)
	for _, name := range h.manager.ListProviders() {
		info, health, err := h.manager.ProviderInfo(name)
		if err != nil {
			continue // removed concurrently
		}
		views = append(views, ProviderView{
			Name:    name,
			Default: name == defaultName,
			Health:  health,
			Info:    info,
		})
	}

	_ = utils.WriteOK(w, views)
}

// HandleGet handles GET /api/v1/providers/{name}
func (h *ProviderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, health, err := h.manager.ProviderInfo(name)
	if err != nil {
		_ = utils.WriteNotFound(w, err.Error())
		return
	}
	_ = utils.WriteOK(w, ProviderView{
		Name:    name,
		Default: name == h.manager.DefaultProvider(),
		Health:  health,
		Info:    info,
	})
}

// HandleRegister handles POST /api/v1/providers
func (h *ProviderHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err)
		return
	}

	info, err := h.manager.AddProvider(ctx, req.Name, manager.Credentials{
		APIKey:  req.APIKey,
		BaseURL: req.BaseURL,
		OrgID:   req.OrgID,
	})
	if err != nil {
		h.logger.Warn(ctx, "provider registration failed",
			zap.String("provider", req.Name),
			zap.Error(err))
		WriteProviderError(w, err)
		return
	}

	h.logger.Info(ctx, "provider registered via API",
		zap.String("provider", req.Name))
	_ = utils.WriteCreated(w, ProviderView{
		Name:    req.Name,
		Default: req.Name == h.manager.DefaultProvider(),
		Info:    info,
	})
}

// HandleRemove handles DELETE /api/v1/providers/{name}
func (h *ProviderHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.manager.RemoveProvider(name); err != nil {
		_ = utils.WriteNotFound(w, err.Error())
		return
	}
	h.logger.Info(r.Context(), "provider removed via API", zap.String("provider", name))
	utils.WriteNoContent(w)
}
