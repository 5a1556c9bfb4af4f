package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WriteResponse writes a successful JSON response
func WriteResponse(ctx *fasthttp.RequestCtx, data interface{}) {
	WriteResponseWithStatus(ctx, data, fasthttp.StatusOK)
}

// WriteResponseWithStatus writes a successful JSON response with custom status
func WriteResponseWithStatus(ctx *fasthttp.RequestCtx, data interface{}, status int) {
	resp := Response{
		Success: true,
		Data:    data,
	}
	writeJSON(ctx, resp, status)
}

// WriteErrorResponse writes an error JSON response
func WriteErrorResponse(ctx *fasthttp.RequestCtx, message string, status int) {
	resp := Response{
		Success: false,
		Error:   message,
	}
	writeJSON(ctx, resp, status)
}

// WriteRaw writes data as-is without the Response envelope. Polling
// endpoints use it so their payload shape matches what the dashboard
// expects field-for-field.
func WriteRaw(ctx *fasthttp.RequestCtx, data interface{}) {
	writeJSON(ctx, data, fasthttp.StatusOK)
}

// ReadJSON decodes the request body into dst.
func ReadJSON(ctx *fasthttp.RequestCtx, dst interface{}) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

// writeJSON writes JSON response to context
func writeJSON(ctx *fasthttp.RequestCtx, data interface{}, status int) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)

	body, err := json.Marshal(data)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBody([]byte(`{"success":false,"error":"failed to marshal response"}`))
		return
	}

	ctx.SetBody(body)
}
