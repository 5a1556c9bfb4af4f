package errors

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

// Mapper maps domain errors to HTTP status codes
type Mapper struct {
	logger zerolog.Logger
}

// NewMapper creates a new error mapper
func NewMapper(logger zerolog.Logger) *Mapper {
	return &Mapper{logger: logger}
}

// MapErrorToHTTP maps an error to HTTP status code and message
func (m *Mapper) MapErrorToHTTP(err error) (int, string) {
	if err == nil {
		return fasthttp.StatusOK, ""
	}

	// Domain sentinels first: the engine returns these directly.
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fasthttp.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrAlreadyRunning),
		errors.Is(err, domain.ErrAccountBusy):
		return fasthttp.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrNoActiveAccounts),
		errors.Is(err, domain.ErrNoTargets),
		errors.Is(err, domain.ErrSessionExpired):
		return fasthttp.StatusBadRequest, err.Error()
	}
	if _, ok := domain.AsFloodWait(err); ok {
		return fasthttp.StatusTooManyRequests, err.Error()
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return fasthttp.StatusBadRequest, validationErr.Error()
	}

	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return fasthttp.StatusNotFound, notFoundErr.Error()
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return fasthttp.StatusConflict, conflictErr.Error()
	}

	m.logger.Error().Err(err).Msg("unknown error")
	return fasthttp.StatusInternalServerError, "internal server error"
}
