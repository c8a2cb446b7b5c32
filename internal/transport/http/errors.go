package http

import (
	"errors"
	"net/http"

	"e2ee-channels/internal/httpx"
	"e2ee-channels/internal/observability/middleware"
	"e2ee-channels/internal/service"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrChannelNotFound),
		errors.Is(err, service.ErrJoinRequestNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrSlugTaken),
		errors.Is(err, service.ErrMembershipChanged),
		errors.Is(err, service.ErrNonceReuse),
		errors.Is(err, service.ErrKeyAlreadyProvisioned),
		errors.Is(err, service.ErrAlreadyMember):
		return http.StatusConflict
	case errors.Is(err, service.ErrKeyMaterialMissing), errors.Is(err, service.ErrAnchorMissing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes the mapped status. Internal errors are not echoed
// to the client.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	log := middleware.Logger(r.Context())
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error(op+" failed", "error", err)
		msg = "internal error"
	} else {
		log.Warn(op+" failed", "error", err, "status", status)
	}
	httpx.WriteError(w, status, msg)
}
