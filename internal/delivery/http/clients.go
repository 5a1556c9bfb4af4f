package http

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

// ClientHandler serves the admin client-pool CRUD.
type ClientHandler struct {
	store  domain.Store
	mapper *pkgerrors.Mapper
	logger zerolog.Logger
}

func NewClientHandler(store domain.Store, mapper *pkgerrors.Mapper, logger zerolog.Logger) *ClientHandler {
	return &ClientHandler{
		store:  store,
		mapper: mapper,
		logger: logger.With().Str("handler", "clients").Logger(),
	}
}

type createClientRequest struct {
	Name             string     `json:"name"`
	TelegramUsername string     `json:"telegram_username"`
	SubscriptionType string     `json:"subscription_type"`
	ExpiresAt        *time.Time `json:"expires_at"`
	Notes            string     `json:"notes"`
}

type updateClientRequest struct {
	Name             *string    `json:"name"`
	TelegramUsername *string    `json:"telegram_username"`
	SubscriptionType *string    `json:"subscription_type"`
	IsActive         *bool      `json:"is_active"`
	ExpiresAt        *time.Time `json:"expires_at"`
	Notes            *string    `json:"notes"`
}

// List handles GET /admin/clients
func (h *ClientHandler) List(ctx *fasthttp.RequestCtx) {
	clients, err := h.store.ListClients(ctx)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, clients)
}

// Create handles POST /admin/clients
func (h *ClientHandler) Create(ctx *fasthttp.RequestCtx) {
	var req createClientRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("name is required"))
		return
	}

	client := &domain.Client{
		Name:             strings.TrimSpace(req.Name),
		TelegramUsername: strings.TrimPrefix(strings.TrimSpace(req.TelegramUsername), "@"),
		SubscriptionType: req.SubscriptionType,
		ExpiresAt:        req.ExpiresAt,
		Notes:            req.Notes,
	}
	if err := h.store.CreateClient(ctx, client); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	h.logger.Info().Int64("client_id", client.ID).Str("name", client.Name).Msg("client created")
	// The access token is only returned on create and regenerate.
	httputil.WriteResponseWithStatus(ctx, client, fasthttp.StatusCreated)
}

// Get handles GET /admin/clients/{id}
func (h *ClientHandler) Get(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	client, err := h.store.GetClient(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	client.AccessToken = ""
	httputil.WriteResponse(ctx, client)
}

// Update handles PUT /admin/clients/{id}
func (h *ClientHandler) Update(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req updateClientRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}

	upd := domain.ClientUpdate{
		Name:             req.Name,
		TelegramUsername: req.TelegramUsername,
		SubscriptionType: req.SubscriptionType,
		IsActive:         req.IsActive,
		ExpiresAt:        req.ExpiresAt,
		Notes:            req.Notes,
	}
	if err := h.store.UpdateClient(ctx, id, upd); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	client, err := h.store.GetClient(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	client.AccessToken = ""
	httputil.WriteResponse(ctx, client)
}

// Delete handles DELETE /admin/clients/{id}
func (h *ClientHandler) Delete(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteClient(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	h.logger.Info().Int64("client_id", id).Msg("client deleted")
	httputil.WriteResponse(ctx, map[string]string{"message": "client deleted"})
}

// Accounts handles GET /admin/clients/{id}/accounts
func (h *ClientHandler) Accounts(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	accounts, err := h.store.ListClientAccounts(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, accounts)
}

// RegenerateToken handles POST /admin/clients/{id}/regenerate-token
func (h *ClientHandler) RegenerateToken(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	token, err := h.store.RegenerateClientToken(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	h.logger.Info().Int64("client_id", id).Msg("client token regenerated")
	httputil.WriteResponse(ctx, map[string]string{"access_token": token})
}
