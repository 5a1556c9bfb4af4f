package http

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/infrastructure/database"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/metrics"
	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
)

func jsonCtx(t *testing.T, body interface{}) *fasthttp.RequestCtx {
	t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&fasthttp.Request{}, nil, nil)
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		ctx.Request.SetBody(raw)
	}
	return ctx
}

func TestAccountGaugesTrackPool(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := metrics.GetDefaultMetrics()
	h := NewAccountHandler(db, nil, nil, pkgerrors.NewMapper(zerolog.Nop()), m, zerolog.Nop())

	ctx := jsonCtx(t, map[string]interface{}{
		"phone_number":       "+15550000001",
		"session_credential": "blob",
	})
	h.Create(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("Create status %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if got := testutil.ToFloat64(m.TotalAccounts); got != 1 {
		t.Fatalf("total accounts gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveAccounts); got != 1 {
		t.Fatalf("active accounts gauge = %v, want 1", got)
	}

	accounts, err := db.ListAccounts(context.Background())
	if err != nil || len(accounts) != 1 {
		t.Fatalf("ListAccounts: %v (%d)", err, len(accounts))
	}

	upd := jsonCtx(t, map[string]interface{}{"is_active": false})
	upd.SetUserValue("id", fmt.Sprint(accounts[0].ID))
	h.Update(upd)
	if upd.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("Update status %d: %s", upd.Response.StatusCode(), upd.Response.Body())
	}
	if got := testutil.ToFloat64(m.ActiveAccounts); got != 0 {
		t.Fatalf("active accounts gauge after deactivation = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.TotalAccounts); got != 1 {
		t.Fatalf("total accounts gauge after deactivation = %v, want 1", got)
	}
}
