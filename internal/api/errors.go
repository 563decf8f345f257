package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gsarma/sentinel/internal/logger"
	"github.com/gsarma/sentinel/internal/oauth"
)

var errInvalidRedirect = errors.New("redirect_url must be an absolute http(s) URL on an allowed origin")

// statusFor maps flow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider),
		errors.Is(err, oauth.ErrInvalidOrExpiredState),
		errors.Is(err, oauth.ErrOAuthProviderError),
		errors.Is(err, oauth.ErrNotLinked),
		errors.Is(err, oauth.ErrWeakPassword),
		errors.Is(err, errInvalidRedirect):
		return http.StatusBadRequest
	case errors.Is(err, oauth.ErrTokenExchangeFailed),
		errors.Is(err, oauth.ErrIdentityClaimsUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, oauth.ErrIdentityInUse),
		errors.Is(err, oauth.ErrAlreadyLinked),
		errors.Is(err, oauth.ErrLastAuthMethod):
		return http.StatusConflict
	case errors.Is(err, oauth.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text shown to clients. Upstream details stay in
// the logs.
func publicMessage(err error) string {
	var pe *oauth.ProviderError
	switch {
	case errors.As(err, &pe):
		return pe.Error()
	case errors.Is(err, oauth.ErrUnknownProvider):
		return oauth.ErrUnknownProvider.Error()
	case errors.Is(err, oauth.ErrInvalidOrExpiredState):
		return oauth.ErrInvalidOrExpiredState.Error()
	case errors.Is(err, oauth.ErrTokenExchangeFailed):
		return oauth.ErrTokenExchangeFailed.Error()
	case errors.Is(err, oauth.ErrIdentityClaimsUnavailable):
		return oauth.ErrIdentityClaimsUnavailable.Error()
	case statusFor(err) == http.StatusInternalServerError:
		return "internal server error"
	default:
		return err.Error()
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	log := logger.From(c.Request.Context(), h.log)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "error": publicMessage(err)})
}
