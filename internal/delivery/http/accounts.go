package http

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/metrics"
	"github.com/eyeconlabs/bump-service/internal/tasks"
	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

const dialogsTimeout = 60 * time.Second

// AccountHandler serves the admin account-pool endpoints.
type AccountHandler struct {
	store    domain.Store
	sessions domain.SessionProvider
	orch     *tasks.Orchestrator
	mapper   *pkgerrors.Mapper
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	// last folder-join task per account, for the bare status endpoint.
	mu          sync.Mutex
	folderTasks map[int64]string
}

func NewAccountHandler(store domain.Store, sessions domain.SessionProvider, orch *tasks.Orchestrator, mapper *pkgerrors.Mapper, m *metrics.Metrics, logger zerolog.Logger) *AccountHandler {
	if m == nil {
		m = metrics.GetDefaultMetrics()
	}
	return &AccountHandler{
		store:       store,
		sessions:    sessions,
		orch:        orch,
		mapper:      mapper,
		metrics:     m,
		logger:      logger.With().Str("handler", "accounts").Logger(),
		folderTasks: make(map[int64]string),
	}
}

// updateAccountGauges publishes pool sizes from a freshly listed slice.
func (h *AccountHandler) updateAccountGauges(accounts []domain.Account) {
	active := 0
	for _, a := range accounts {
		if a.IsActive {
			active++
		}
	}
	h.metrics.UpdateAccounts(active, len(accounts))
}

// refreshGauges re-counts the pool after a mutation.
func (h *AccountHandler) refreshGauges(ctx context.Context) {
	accounts, err := h.store.ListAccounts(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to refresh account gauges")
		return
	}
	h.updateAccountGauges(accounts)
}

type addAccountRequest struct {
	PhoneNumber       string `json:"phone_number"`
	DisplayName       string `json:"display_name"`
	IsPremium         bool   `json:"is_premium"`
	ClientID          *int64 `json:"client_id"`
	SessionCredential string `json:"session_credential"`
}

type updateAccountRequest struct {
	DisplayName *string `json:"display_name"`
	IsPremium   *bool   `json:"is_premium"`
	IsActive    *bool   `json:"is_active"`
}

type assignAccountRequest struct {
	ClientID *int64 `json:"client_id"`
}

// List handles GET /admin/accounts
func (h *AccountHandler) List(ctx *fasthttp.RequestCtx) {
	accounts, err := h.store.ListAccounts(ctx)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	h.updateAccountGauges(accounts)
	httputil.WriteResponse(ctx, accounts)
}

// Create handles POST /admin/accounts
func (h *AccountHandler) Create(ctx *fasthttp.RequestCtx) {
	var req addAccountRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("phone_number is required"))
		return
	}
	if strings.TrimSpace(req.SessionCredential) == "" {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("session_credential is required"))
		return
	}

	account := &domain.Account{
		PhoneNumber:       strings.TrimSpace(req.PhoneNumber),
		DisplayName:       req.DisplayName,
		IsPremium:         req.IsPremium,
		ClientID:          req.ClientID,
		SessionCredential: req.SessionCredential,
	}
	if err := h.store.AddAccount(ctx, account); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	h.logger.Info().Int64("account_id", account.ID).Msg("account added")
	h.refreshGauges(ctx)
	httputil.WriteResponseWithStatus(ctx, account, fasthttp.StatusCreated)
}

// Update handles PUT /admin/accounts/{id}
func (h *AccountHandler) Update(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req updateAccountRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}

	upd := domain.AccountUpdate{
		DisplayName: req.DisplayName,
		IsPremium:   req.IsPremium,
		IsActive:    req.IsActive,
	}
	if err := h.store.UpdateAccount(ctx, id, upd); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	account, err := h.store.GetAccount(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	h.refreshGauges(ctx)
	httputil.WriteResponse(ctx, account)
}

// Delete handles DELETE /admin/accounts/{id}
func (h *AccountHandler) Delete(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteAccount(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	h.sessions.Invalidate(id)
	h.logger.Info().Int64("account_id", id).Msg("account deleted")
	h.refreshGauges(ctx)
	httputil.WriteResponse(ctx, map[string]string{"message": "account deleted"})
}

// Assign handles POST /admin/accounts/{id}/assign. A null client_id returns
// the account to the unassigned pool.
func (h *AccountHandler) Assign(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req assignAccountRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}

	if err := h.store.AssignAccount(ctx, id, req.ClientID); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	account, err := h.store.GetAccount(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, account)
}

type dialogEntry struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username,omitempty"`
	Kind     string `json:"kind"`
	Forum    bool   `json:"forum,omitempty"`
}

// Dialogs handles GET /admin/accounts/{id}/dialogs. Fails fast with 409
// when the account is busy in a campaign or task.
func (h *AccountHandler) Dialogs(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, dialogsTimeout)
	defer cancel()

	client, release, err := h.sessions.Checkout(reqCtx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	defer release()

	dialogs, err := client.Dialogs(reqCtx)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	entries := make([]dialogEntry, 0, len(dialogs))
	for _, d := range dialogs {
		entries = append(entries, dialogEntry{
			ID:       d.ID,
			Title:    d.Title,
			Username: d.Username,
			Kind:     chatKindLabel(d.Kind),
			Forum:    d.Forum,
		})
	}
	httputil.WriteResponse(ctx, entries)
}

// JoinFolders handles POST /admin/accounts/{id}/join-folders
func (h *AccountHandler) JoinFolders(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.store.GetAccount(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	taskID := h.orch.StartFolderJoin(id)
	h.mu.Lock()
	h.folderTasks[id] = taskID
	h.mu.Unlock()

	httputil.WriteResponse(ctx, map[string]string{"task_id": taskID})
}

// JoinFoldersStatus handles GET /admin/accounts/{id}/join-folders/status,
// reporting the most recently started folder-join task for the account.
func (h *AccountHandler) JoinFoldersStatus(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	h.mu.Lock()
	taskID, ok := h.folderTasks[id]
	h.mu.Unlock()
	if !ok {
		writeError(ctx, h.mapper, pkgerrors.NewNotFoundError("no folder join task for account"))
		return
	}

	status, err := h.orch.Status(taskID)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteRaw(ctx, status)
}

func chatKindLabel(k domain.ChatKind) string {
	switch k {
	case domain.ChatKindChannel:
		return "channel"
	case domain.ChatKindChat:
		return "chat"
	default:
		return "user"
	}
}
