package http

import (
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

// AnalyticsHandler serves aggregate broadcast counters.
type AnalyticsHandler struct {
	store  domain.Store
	mapper *pkgerrors.Mapper
	logger zerolog.Logger
}

func NewAnalyticsHandler(store domain.Store, mapper *pkgerrors.Mapper, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		store:  store,
		mapper: mapper,
		logger: logger.With().Str("handler", "analytics").Logger(),
	}
}

// Global handles GET /admin/analytics
func (h *AnalyticsHandler) Global(ctx *fasthttp.RequestCtx) {
	analytics, err := h.store.GlobalAnalytics(ctx)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, analytics)
}

// Client handles GET /admin/analytics/client/{id} and GET /client/analytics
func (h *AnalyticsHandler) Client(ctx *fasthttp.RequestCtx) {
	var clientID int64
	if client := authedClient(ctx); client != nil {
		clientID = client.ID
	} else {
		id, ok := pathID(ctx, "id")
		if !ok {
			return
		}
		clientID = id
	}

	analytics, err := h.store.ClientAnalytics(ctx, clientID)
	if err != nil {
		writeError(ctx, h.mapper, err)
		return
	}
	httputil.WriteResponse(ctx, analytics)
}
