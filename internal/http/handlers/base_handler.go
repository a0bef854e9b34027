// README: Base handler utilities (JSON helpers, path params, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"diomy/internal/http/middleware"
	"diomy/internal/modules/actor"
	"diomy/internal/modules/chat"
	"diomy/internal/modules/location"
	"diomy/internal/modules/matching"
	"diomy/internal/modules/trip"
	"diomy/internal/modules/wallet"
	"diomy/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// uuidParam reads a path parameter that must be a UUID.
func uuidParam(c *gin.Context, name string) (types.ID, bool) {
	raw := c.Param(name)
	if _, err := uuid.Parse(raw); err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(raw), true
}

func caller(c *gin.Context) types.ID {
	return middleware.CallerID(c)
}

// writeServiceError maps module sentinels to HTTP status codes. Order
// matters: ErrNotParty wraps ErrInvalidTransition.
func writeServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, trip.ErrNotParty), errors.Is(err, chat.ErrNotParty),
		errors.Is(err, actor.ErrNotProvider), errors.Is(err, actor.ErrNotValidated):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, trip.ErrBadRequest), errors.Is(err, actor.ErrBadRequest),
		errors.Is(err, wallet.ErrBadRequest), errors.Is(err, location.ErrBadPosition),
		errors.Is(err, chat.ErrEmpty), errors.Is(err, chat.ErrTooLong):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrNotFound), errors.Is(err, actor.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrConflict), errors.Is(err, trip.ErrInvalidTransition),
		errors.Is(err, trip.ErrActiveTrip), errors.Is(err, trip.ErrAlreadyRated),
		errors.Is(err, wallet.ErrNotPending), errors.Is(err, actor.ErrInsufficientFunds):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, trip.ErrVerificationMismatch):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, matching.ErrNoProvider):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
