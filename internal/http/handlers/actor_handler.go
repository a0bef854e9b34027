// README: Actor handlers: registration, public profile, device token, admin validation.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"diomy/internal/modules/actor"
	"diomy/internal/types"
)

type ActorService interface {
	Register(ctx context.Context, cmd actor.RegisterCommand) (*actor.Actor, error)
	Get(ctx context.Context, id types.ID) (*actor.Actor, error)
	PublicProfile(ctx context.Context, id types.ID) (actor.Profile, error)
	SetPushToken(ctx context.Context, id types.ID, token string) error
	Validate(ctx context.Context, id types.ID) error
}

type ActorHandler struct {
	actors ActorService
}

func NewActorHandler(actors ActorService) *ActorHandler {
	return &ActorHandler{actors: actors}
}

type registerReq struct {
	Role        types.Role `json:"role" binding:"required,oneof=requester provider"`
	DisplayName string     `json:"display_name" binding:"required,max=100"`
	Phone       string     `json:"phone" binding:"max=32"`
}

type pushTokenReq struct {
	Token string `json:"token" binding:"required"`
}

// Register creates or updates the caller's own actor record.
func (h *ActorHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	a, err := h.actors.Register(c.Request.Context(), actor.RegisterCommand{
		ID:          caller(c),
		Role:        req.Role,
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, a)
}

func (h *ActorHandler) Me(c *gin.Context) {
	a, err := h.actors.Get(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}

func (h *ActorHandler) Profile(c *gin.Context) {
	p, err := h.actors.PublicProfile(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *ActorHandler) PushToken(c *gin.Context) {
	var req pushTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "missing token")
		return
	}
	if err := h.actors.SetPushToken(c.Request.Context(), caller(c), req.Token); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ActorHandler) Validate(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if err := h.actors.Validate(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"id": id, "validated": true})
}
