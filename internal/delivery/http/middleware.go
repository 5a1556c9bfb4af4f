package http

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

// clientKey is the request-scoped user value holding the authenticated
// client on /client routes.
const clientKey = "auth_client"

// bearerToken extracts the token from the Authorization header.
func bearerToken(ctx *fasthttp.RequestCtx) string {
	auth := string(ctx.Request.Header.Peek("Authorization"))
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// AdminAuth guards admin routes with the configured static token.
func AdminAuth(token string, logger zerolog.Logger) httputil.Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if token == "" || bearerToken(ctx) != token {
				logger.Warn().
					Str("path", string(ctx.Path())).
					Str("remote", ctx.RemoteIP().String()).
					Msg("rejected admin request")
				httputil.WriteErrorResponse(ctx, "unauthorized", fasthttp.StatusUnauthorized)
				return
			}
			next(ctx)
		}
	}
}

// ClientAuth guards client routes with per-client access tokens and stores
// the resolved client on the request context.
func ClientAuth(store domain.Store, logger zerolog.Logger) httputil.Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token := bearerToken(ctx)
			if token == "" {
				httputil.WriteErrorResponse(ctx, "unauthorized", fasthttp.StatusUnauthorized)
				return
			}

			client, err := store.GetClientByToken(ctx, token)
			if err != nil {
				httputil.WriteErrorResponse(ctx, "unauthorized", fasthttp.StatusUnauthorized)
				return
			}
			if !client.IsActive {
				httputil.WriteErrorResponse(ctx, "subscription inactive", fasthttp.StatusForbidden)
				return
			}
			if client.ExpiresAt != nil && client.ExpiresAt.Before(time.Now()) {
				httputil.WriteErrorResponse(ctx, "subscription expired", fasthttp.StatusForbidden)
				return
			}

			ctx.SetUserValue(clientKey, client)
			next(ctx)
		}
	}
}

// RequestLogger logs every request with its status and duration.
func RequestLogger(logger zerolog.Logger) httputil.Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			logger.Debug().
				Str("method", string(ctx.Method())).
				Str("path", string(ctx.Path())).
				Int("status", ctx.Response.StatusCode()).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		}
	}
}

// authedClient returns the client placed on the context by ClientAuth, or
// nil on admin routes.
func authedClient(ctx *fasthttp.RequestCtx) *domain.Client {
	client, _ := ctx.UserValue(clientKey).(*domain.Client)
	return client
}
