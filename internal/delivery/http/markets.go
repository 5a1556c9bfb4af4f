package http

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/tasks"
	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

const joinChatTimeout = 60 * time.Second

// MarketHandler serves the market join operations: one-off chat joins and
// the background task kinds (folder join, global join, nuclear join).
type MarketHandler struct {
	sessions domain.SessionProvider
	orch     *tasks.Orchestrator
	mapper   *pkgerrors.Mapper
	logger   zerolog.Logger
}

func NewMarketHandler(sessions domain.SessionProvider, orch *tasks.Orchestrator, mapper *pkgerrors.Mapper, logger zerolog.Logger) *MarketHandler {
	return &MarketHandler{
		sessions: sessions,
		orch:     orch,
		mapper:   mapper,
		logger:   logger.With().Str("handler", "markets").Logger(),
	}
}

type joinChatRequest struct {
	AccountID int64  `json:"account_id"`
	ChatLink  string `json:"chat_link"`
}

type joinFolderRequest struct {
	AccountID int64 `json:"account_id"`
}

type nuclearJoinRequest struct {
	AccountID   int64    `json:"account_id"`
	FolderLinks []string `json:"folder_links"`
}

type globalJoinRequest struct {
	ChatLink string `json:"chat_link"`
}

type bulkGlobalJoinRequest struct {
	ChatLinks []string `json:"chat_links"`
	// AccountID limits the join to one account; zero means all active.
	AccountID int64 `json:"account_id"`
}

// JoinChat handles POST /admin/markets/join-chat: a synchronous single
// account, single chat join.
func (h *MarketHandler) JoinChat(ctx *fasthttp.RequestCtx) {
	var req joinChatRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if req.AccountID <= 0 || strings.TrimSpace(req.ChatLink) == "" {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("account_id and chat_link are required"))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, joinChatTimeout)
	defer cancel()

	client, release, err := h.sessions.Checkout(reqCtx, req.AccountID)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	defer release()

	if err := client.JoinChat(reqCtx, strings.TrimSpace(req.ChatLink)); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	h.logger.Info().
		Int64("account_id", req.AccountID).
		Str("chat", req.ChatLink).
		Msg("chat joined")
	httputil.WriteResponse(ctx, map[string]string{"message": "chat joined"})
}

// JoinFolder handles POST /admin/markets/join-folder
func (h *MarketHandler) JoinFolder(ctx *fasthttp.RequestCtx) {
	var req joinFolderRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if req.AccountID <= 0 {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("account_id is required"))
		return
	}
	h.started(ctx, h.orch.StartFolderJoin(req.AccountID))
}

// NuclearJoin handles POST /admin/markets/nuclear-join: wipe every dialog
// on the account, then rejoin folders (the supplied links, or the
// configured pack).
func (h *MarketHandler) NuclearJoin(ctx *fasthttp.RequestCtx) {
	var req nuclearJoinRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if req.AccountID <= 0 {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("account_id is required"))
		return
	}
	h.logger.Warn().Int64("account_id", req.AccountID).Msg("nuclear join requested")
	h.started(ctx, h.orch.StartNuclearJoin(req.AccountID, req.FolderLinks))
}

// GlobalJoin handles POST /admin/markets/join targets across every active
// account. global-join-anything shares the handler: JoinChat accepts
// usernames, t.me links and private invites alike.
func (h *MarketHandler) GlobalJoin(ctx *fasthttp.RequestCtx) {
	var req globalJoinRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.ChatLink) == "" {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("chat_link is required"))
		return
	}
	h.started(ctx, h.orch.StartGlobalJoin(strings.TrimSpace(req.ChatLink)))
}

// BulkGlobalJoin handles POST /admin/markets/bulk-global-join
func (h *MarketHandler) BulkGlobalJoin(ctx *fasthttp.RequestCtx) {
	var req bulkGlobalJoinRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}

	links := make([]string, 0, len(req.ChatLinks))
	for _, link := range req.ChatLinks {
		if trimmed := strings.TrimSpace(link); trimmed != "" {
			links = append(links, trimmed)
		}
	}
	if len(links) == 0 {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("chat_links is required"))
		return
	}
	h.started(ctx, h.orch.StartBulkGlobalJoin(links, req.AccountID))
}

// TaskStatus handles GET /admin/markets/global-status/{task_id} and
// GET /admin/markets/bulk-global-join/status/{task_id}
func (h *MarketHandler) TaskStatus(ctx *fasthttp.RequestCtx) {
	taskID, ok := pathString(ctx, "task_id")
	if !ok {
		return
	}
	status, err := h.orch.Status(taskID)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteRaw(ctx, status)
}

// CancelTask handles DELETE /admin/markets/tasks/{task_id}
func (h *MarketHandler) CancelTask(ctx *fasthttp.RequestCtx) {
	taskID, ok := pathString(ctx, "task_id")
	if !ok {
		return
	}
	if err := h.orch.Cancel(taskID); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]string{"message": "task cancelled"})
}

func (h *MarketHandler) started(ctx *fasthttp.RequestCtx, taskID string) {
	httputil.WriteResponse(ctx, map[string]string{"task_id": taskID})
}
