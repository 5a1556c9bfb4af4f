package http

import (
	"strconv"

	"github.com/valyala/fasthttp"

	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

// pathID parses a numeric path segment registered as {name}.
func pathID(ctx *fasthttp.RequestCtx, name string) (int64, bool) {
	raw, _ := ctx.UserValue(name).(string)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteErrorResponse(ctx, name+" must be a positive integer", fasthttp.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// pathString reads a string path segment registered as {name}.
func pathString(ctx *fasthttp.RequestCtx, name string) (string, bool) {
	raw, _ := ctx.UserValue(name).(string)
	if raw == "" {
		httputil.WriteErrorResponse(ctx, name+" is required", fasthttp.StatusBadRequest)
		return "", false
	}
	return raw, true
}

// queryInt reads an integer query parameter, falling back to def.
func queryInt(ctx *fasthttp.RequestCtx, name string, def int) int {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// writeError maps err through the shared error mapper and writes it.
func writeError(ctx *fasthttp.RequestCtx, mapper *pkgerrors.Mapper, err error) {
	status, msg := mapper.MapErrorToHTTP(err)
	httputil.WriteErrorResponse(ctx, msg, status)
}
