// README: Trip handlers for requesters (quote, request, cancel, rate, history).
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

type TripService interface {
	Quote(ctx context.Context, cmd trip.QuoteCommand) (trip.Quote, error)
	Get(ctx context.Context, tripID, viewer types.ID) (*trip.Trip, error)
	ActiveFor(ctx context.Context, actorID types.ID) (*trip.Trip, error)
	History(ctx context.Context, actorID types.ID, limit int) ([]trip.Trip, error)
	Cancel(ctx context.Context, cmd trip.CancelCommand) (*trip.Trip, error)
	Rate(ctx context.Context, tripID, raterID types.ID, stars int) error
	Accept(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)
	Start(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)
	Pause(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)
	Resume(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)
	Complete(ctx context.Context, cmd trip.CompleteCommand) (*trip.Trip, error)
}

// Dispatcher picks the provider a new trip is offered to and handles declines.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd trip.CreateCommand) (*trip.Trip, error)
	Decline(ctx context.Context, tripID, providerID types.ID) (*trip.Trip, error)
}

type TripHandler struct {
	trips    TripService
	dispatch Dispatcher
}

func NewTripHandler(trips TripService, dispatch Dispatcher) *TripHandler {
	return &TripHandler{trips: trips, dispatch: dispatch}
}

type quoteReq struct {
	ServiceType types.ServiceType `json:"service_type" binding:"required,oneof=transport delivery"`
	PackageSize types.PackageSize `json:"package_size" binding:"omitempty,oneof=small medium large"`
	Pickup      types.Point       `json:"pickup"`
	Dropoff     types.Point       `json:"dropoff"`
}

type createTripReq struct {
	quoteReq
	DestinationLabel string `json:"destination_label" binding:"max=200"`
}

type cancelReq struct {
	Reason string `json:"reason" binding:"max=500"`
}

type rateReq struct {
	Stars int `json:"stars" binding:"required,min=1,max=5"`
}

func (h *TripHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	q, err := h.trips.Quote(c.Request.Context(), trip.QuoteCommand{
		ServiceType: req.ServiceType,
		PackageSize: req.PackageSize,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

// Create requests a trip; the nearest eligible provider receives the offer.
func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.dispatch.Dispatch(c.Request.Context(), trip.CreateCommand{
		RequesterID:      caller(c),
		ServiceType:      req.ServiceType,
		PackageSize:      req.PackageSize,
		Pickup:           req.Pickup,
		Dropoff:          req.Dropoff,
		DestinationLabel: req.DestinationLabel,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, t)
}

func (h *TripHandler) Active(c *gin.Context) {
	t, err := h.trips.ActiveFor(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TripHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	trips, err := h.trips.History(c.Request.Context(), caller(c), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if trips == nil {
		trips = []trip.Trip{}
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}

func (h *TripHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TripHandler) Cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := h.trips.Cancel(c.Request.Context(), trip.CancelCommand{
		TripID:  id,
		ActorID: caller(c),
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t.ViewFor(caller(c)))
}

func (h *TripHandler) Rate(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "stars must be between 1 and 5")
		return
	}
	if err := h.trips.Rate(c.Request.Context(), id, caller(c), req.Stars); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
