package http

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

func authCtx(token string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI("/admin/accounts")
	if token != "" {
		ctx.Request.Header.Set("Authorization", "Bearer "+token)
	}
	return ctx
}

func TestAdminAuth(t *testing.T) {
	called := false
	handler := AdminAuth("secret", zerolog.Nop())(func(ctx *fasthttp.RequestCtx) {
		called = true
	})

	ctx := authCtx("secret")
	handler(ctx)
	if !called {
		t.Fatal("expected handler call with valid token")
	}

	for _, token := range []string{"", "wrong"} {
		called = false
		ctx = authCtx(token)
		handler(ctx)
		if called {
			t.Fatalf("expected rejection for token %q", token)
		}
		if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
		}
	}
}

func TestAdminAuthEmptyConfiguredTokenRejectsAll(t *testing.T) {
	handler := AdminAuth("", zerolog.Nop())(func(ctx *fasthttp.RequestCtx) {
		t.Fatal("handler must not run without a configured token")
	})

	ctx := authCtx("")
	handler(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestOverallStatus(t *testing.T) {
	healthy := []ComponentHealth{
		{Name: "database", Healthy: true},
		{Name: "telegram_accounts", Healthy: true},
		{Name: "event_producer", Healthy: true},
	}
	if got := overallStatus(healthy); got != HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}

	degraded := []ComponentHealth{
		{Name: "database", Healthy: true},
		{Name: "telegram_accounts", Healthy: false},
	}
	if got := overallStatus(degraded); got != HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}

	unhealthy := []ComponentHealth{
		{Name: "database", Healthy: false},
	}
	if got := overallStatus(unhealthy); got != HealthStatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", got)
	}
}
