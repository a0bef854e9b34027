// README: Provider-side handlers: availability, position and trip actions.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"diomy/internal/modules/location"
	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

type Availability interface {
	GoOnline(ctx context.Context, id types.ID) error
	GoOffline(ctx context.Context, id types.ID) error
}

type PositionUpdater interface {
	Update(ctx context.Context, providerID types.ID, p types.Point) (location.Sample, error)
}

type ProviderHandler struct {
	trips    TripService
	dispatch Dispatcher
	actors   Availability
	position PositionUpdater
}

func NewProviderHandler(trips TripService, dispatch Dispatcher, actors Availability, position PositionUpdater) *ProviderHandler {
	return &ProviderHandler{trips: trips, dispatch: dispatch, actors: actors, position: position}
}

type completeReq struct {
	VerificationCode string `json:"verification_code" binding:"omitempty,len=4,numeric"`
}

func (h *ProviderHandler) Online(c *gin.Context) {
	if err := h.actors.GoOnline(c.Request.Context(), caller(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"online": true})
}

func (h *ProviderHandler) Offline(c *gin.Context) {
	if err := h.actors.GoOffline(c.Request.Context(), caller(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"online": false})
}

func (h *ProviderHandler) Location(c *gin.Context) {
	var p types.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.position.Update(c.Request.Context(), caller(c), p)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, s)
}

func (h *ProviderHandler) Accept(c *gin.Context) {
	h.act(c, h.trips.Accept)
}

// Decline answers without the trip body: once declined the caller is no
// longer party to it and may not see who is offered next.
func (h *ProviderHandler) Decline(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if _, err := h.dispatch.Decline(c.Request.Context(), id, caller(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "declined": true})
}

func (h *ProviderHandler) Start(c *gin.Context) {
	h.act(c, h.trips.Start)
}

func (h *ProviderHandler) Pause(c *gin.Context) {
	h.act(c, h.trips.Pause)
}

func (h *ProviderHandler) Resume(c *gin.Context) {
	h.act(c, h.trips.Resume)
}

func (h *ProviderHandler) Complete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req completeReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "verification_code must be 4 digits")
			return
		}
	}
	t, err := h.trips.Complete(c.Request.Context(), trip.CompleteCommand{
		TripID:           id,
		ProviderID:       caller(c),
		VerificationCode: req.VerificationCode,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t.ViewFor(caller(c)))
}

func (h *ProviderHandler) act(c *gin.Context, fn func(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	t, err := fn(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t.ViewFor(caller(c)))
}
