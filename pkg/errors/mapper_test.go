package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

func TestMapErrorToHTTP(t *testing.T) {
	m := NewMapper(zerolog.Nop())

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"nil", nil, fasthttp.StatusOK},
		{"not found sentinel", domain.ErrNotFound, fasthttp.StatusNotFound},
		{"already running", domain.ErrAlreadyRunning, fasthttp.StatusConflict},
		{"account busy", domain.ErrAccountBusy, fasthttp.StatusConflict},
		{"not running", domain.ErrNotRunning, fasthttp.StatusBadRequest},
		{"no active accounts", domain.ErrNoActiveAccounts, fasthttp.StatusBadRequest},
		{"flood wait", &domain.FloodWaitError{Duration: time.Minute}, fasthttp.StatusTooManyRequests},
		{"validation", NewValidationError("name is required"), fasthttp.StatusBadRequest},
		{"validationf", NewValidationErrorf("invalid forward_link: %v", "bad"), fasthttp.StatusBadRequest},
		{"not found typed", NewNotFoundError("no folder join task for account"), fasthttp.StatusNotFound},
		{"conflict typed", NewConflictError("campaign is running, stop it first"), fasthttp.StatusConflict},
		{"wrapped sentinel", fmt.Errorf("lookup: %w", domain.ErrNotFound), fasthttp.StatusNotFound},
		{"unknown", fmt.Errorf("disk on fire"), fasthttp.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := m.MapErrorToHTTP(tc.err)
			if status != tc.status {
				t.Fatalf("MapErrorToHTTP(%v) = %d, want %d", tc.err, status, tc.status)
			}
		})
	}

	if _, msg := m.MapErrorToHTTP(fmt.Errorf("disk on fire")); msg != "internal server error" {
		t.Fatalf("unknown errors must not leak details, got %q", msg)
	}
}
