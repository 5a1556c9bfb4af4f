package http

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/broadcast"
	"github.com/eyeconlabs/bump-service/internal/domain"
	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

// CampaignHandler serves campaign CRUD and run control for both the admin
// and client routers. On client routes the authenticated client only sees
// its own campaigns.
type CampaignHandler struct {
	store  domain.Store
	runner *broadcast.Runner
	mapper *pkgerrors.Mapper
	logger zerolog.Logger
}

func NewCampaignHandler(store domain.Store, runner *broadcast.Runner, mapper *pkgerrors.Mapper, logger zerolog.Logger) *CampaignHandler {
	return &CampaignHandler{
		store:  store,
		runner: runner,
		mapper: mapper,
		logger: logger.With().Str("handler", "campaigns").Logger(),
	}
}

type createCampaignRequest struct {
	Name           string   `json:"name"`
	ClientID       int64    `json:"client_id"`
	MessageContent string   `json:"message_content"`
	DelaySeconds   int      `json:"delay_seconds"`
	AccountIDs     []int64  `json:"account_ids"`
	TargetTopic    int      `json:"target_topic"`
	SendMode       string   `json:"send_mode"`
	ForwardLink    string   `json:"forward_link"`
	Loop           bool     `json:"loop"`
	TargetGroups   []string `json:"target_groups"`
}

type startCampaignRequest struct {
	Mode       string  `json:"mode"`
	AccountIDs []int64 `json:"account_ids"`
}

type addGroupsRequest struct {
	Groups []string `json:"groups"`
}

// authorize loads a campaign and hides it from foreign clients.
func (h *CampaignHandler) authorize(ctx *fasthttp.RequestCtx, id int64) (*domain.Campaign, error) {
	campaign, err := h.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if client := authedClient(ctx); client != nil && campaign.ClientID != client.ID {
		return nil, domain.ErrNotFound
	}
	return campaign, nil
}

// List handles GET /admin/campaigns and GET /client/campaigns
func (h *CampaignHandler) List(ctx *fasthttp.RequestCtx) {
	var (
		campaigns []domain.Campaign
		err       error
	)
	if client := authedClient(ctx); client != nil {
		campaigns, err = h.store.ListClientCampaigns(ctx, client.ID)
	} else {
		campaigns, err = h.store.ListCampaigns(ctx)
	}
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, campaigns)
}

// Create handles POST /admin/campaigns and POST /client/campaigns
func (h *CampaignHandler) Create(ctx *fasthttp.RequestCtx) {
	var req createCampaignRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("name is required"))
		return
	}

	clientID := req.ClientID
	if client := authedClient(ctx); client != nil {
		clientID = client.ID
	}
	if clientID <= 0 {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("client_id is required"))
		return
	}
	if _, err := h.store.GetClient(ctx, clientID); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	sendMode := req.SendMode
	if sendMode == "" {
		sendMode = domain.SendModeSend
	}
	if sendMode != domain.SendModeSend && sendMode != domain.SendModeForward {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("send_mode must be send or forward"))
		return
	}

	campaign := &domain.Campaign{
		ClientID:       clientID,
		Name:           strings.TrimSpace(req.Name),
		Status:         domain.CampaignIdle,
		MessageType:    "text",
		MessageContent: req.MessageContent,
		DelaySeconds:   req.DelaySeconds,
		SendMode:       sendMode,
		TargetTopic:    req.TargetTopic,
		Loop:           req.Loop,
		AccountIDs:     req.AccountIDs,
	}

	switch sendMode {
	case domain.SendModeForward:
		src, err := parseForwardLink(req.ForwardLink)
		if err != nil {
			writeError(ctx, h.mapper, pkgerrors.NewValidationErrorf("invalid forward_link: %v", err))
			return
		}
		campaign.ForwardFromChat = src.ChannelID
		campaign.ForwardFromUsername = src.Username
		campaign.ForwardMessageID = src.MessageID
	default:
		if strings.TrimSpace(req.MessageContent) == "" {
			writeError(ctx, h.mapper, pkgerrors.NewValidationError("message_content is required"))
			return
		}
	}

	if err := h.store.CreateCampaign(ctx, campaign); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	if len(req.TargetGroups) > 0 {
		if _, err := h.store.AddCampaignGroups(ctx, campaign.ID, req.TargetGroups); err != nil {
			writeError(ctx, h.mapper, err)
			return
		}
	}

	h.logger.Info().
		Int64("campaign_id", campaign.ID).
		Int64("client_id", clientID).
		Str("send_mode", sendMode).
		Msg("campaign created")
	httputil.WriteResponseWithStatus(ctx, campaign, fasthttp.StatusCreated)
}

// Get handles GET /…/campaigns/{id}
func (h *CampaignHandler) Get(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	campaign, err := h.authorize(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, campaign)
}

// Delete handles DELETE /…/campaigns/{id}
func (h *CampaignHandler) Delete(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	if h.runner.IsRunning(id) {
		writeError(ctx, h.mapper, pkgerrors.NewConflictError("campaign is running, stop it first"))
		return
	}
	if err := h.store.DeleteCampaign(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	h.logger.Info().Int64("campaign_id", id).Msg("campaign deleted")
	httputil.WriteResponse(ctx, map[string]string{"message": "campaign deleted"})
}

// AddGroups handles POST /…/campaigns/{id}/groups
func (h *CampaignHandler) AddGroups(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	var req addGroupsRequest
	if err := httputil.ReadJSON(ctx, &req); err != nil {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if len(req.Groups) == 0 {
		writeError(ctx, h.mapper, pkgerrors.NewValidationError("groups is required"))
		return
	}

	added, err := h.store.AddCampaignGroups(ctx, id, req.Groups)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]int{"added": added})
}

// ClearGroups handles DELETE /…/campaigns/{id}/groups
func (h *CampaignHandler) ClearGroups(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	if err := h.store.ClearCampaignGroups(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]string{"message": "groups cleared"})
}

// Start handles POST /…/campaigns/{id}/start
func (h *CampaignHandler) Start(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	var req startCampaignRequest
	if len(ctx.PostBody()) > 0 {
		if err := httputil.ReadJSON(ctx, &req); err != nil {
			writeError(ctx, h.mapper, pkgerrors.NewValidationError("invalid request body"))
			return
		}
	}

	if err := h.runner.Start(ctx, id, req.Mode, req.AccountIDs); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]string{"message": "campaign started"})
}

// Stop handles POST /…/campaigns/{id}/stop
func (h *CampaignHandler) Stop(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	if err := h.runner.Stop(id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]string{"message": "campaign stopping"})
}

// RemoveAccount handles POST /…/campaigns/{id}/remove-account/{account_id}
func (h *CampaignHandler) RemoveAccount(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	accountID, ok := pathID(ctx, "account_id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	if err := h.runner.RemoveAccount(id, accountID); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, map[string]string{"message": "account removed from campaign"})
}

type campaignStatusResponse struct {
	*domain.CampaignProgress
	ProgressPercent float64 `json:"progress_percent"`
}

// Status handles GET /…/campaigns/{id}/status. The payload is written
// without the response envelope; dashboards poll it as-is.
func (h *CampaignHandler) Status(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	progress, err := h.runner.Status(ctx, id)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteRaw(ctx, campaignStatusResponse{
		CampaignProgress: progress,
		ProgressPercent:  progressPercent(progress),
	})
}

// Logs handles GET /…/campaigns/{id}/logs, serving the persisted broadcast
// log (the status payload carries the in-memory recent_logs ring).
func (h *CampaignHandler) Logs(ctx *fasthttp.RequestCtx) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if _, err := h.authorize(ctx, id); err != nil {
		writeError(ctx, h.mapper, err)
		return
	}

	limit := queryInt(ctx, "limit", 100)
	logs, err := h.store.ListBroadcastLogs(ctx, id, limit)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, logs)
}

// progressPercent reports completion of the current cycle. Counters
// accumulate across cycles on looping campaigns, so earlier cycles are
// subtracted out. Cycle is 1-based while a run is live.
func progressPercent(p *domain.CampaignProgress) float64 {
	if p.Total <= 0 {
		return 0
	}
	if p.Status == domain.CampaignCompleted {
		return 100
	}
	completed := p.Cycle - 1
	if completed < 0 {
		completed = 0
	}
	done := p.Sent + p.Failed - completed*p.Total
	if done < 0 {
		done = 0
	}
	pct := float64(done) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// parseForwardLink resolves a t.me message link into a forward source.
// Supported shapes: t.me/c/<internal_id>/<message_id> for private channels
// and t.me/<username>/<message_id> for public ones.
func parseForwardLink(link string) (domain.ForwardSource, error) {
	trimmed := strings.TrimSpace(link)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(trimmed, prefix) {
			trimmed = strings.TrimPrefix(trimmed, prefix)
			break
		}
	}
	if trimmed == "" {
		return domain.ForwardSource{}, errors.New("forward_link is required for forward mode")
	}

	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "c":
		channelID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || channelID <= 0 {
			return domain.ForwardSource{}, fmt.Errorf("invalid channel id in forward link %q", link)
		}
		msgID, err := strconv.Atoi(parts[2])
		if err != nil || msgID <= 0 {
			return domain.ForwardSource{}, fmt.Errorf("invalid message id in forward link %q", link)
		}
		return domain.ForwardSource{ChannelID: channelID, MessageID: msgID}, nil
	case len(parts) == 2:
		username := strings.TrimPrefix(parts[0], "@")
		if username == "" {
			return domain.ForwardSource{}, fmt.Errorf("invalid username in forward link %q", link)
		}
		msgID, err := strconv.Atoi(parts[1])
		if err != nil || msgID <= 0 {
			return domain.ForwardSource{}, fmt.Errorf("invalid message id in forward link %q", link)
		}
		return domain.ForwardSource{Username: username, MessageID: msgID}, nil
	default:
		return domain.ForwardSource{}, fmt.Errorf("unsupported forward link %q", link)
	}
}
