// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diomy/internal/http/handlers"
	"diomy/internal/http/middleware"
	"diomy/internal/infra"
	"diomy/internal/modules/realtime"
	"diomy/internal/types"
)

// Actors is the actor surface the API needs: profile management and
// provider availability.
type Actors interface {
	handlers.ActorService
	handlers.Availability
}

type RouterDeps struct {
	Verifier infra.TokenVerifier
	Trips    handlers.TripService
	Dispatch handlers.Dispatcher
	Actors   Actors
	Position handlers.PositionUpdater
	Wallet   handlers.WalletService
	Chat     handlers.ChatService
	Realtime realtime.Deps
	Log      *slog.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Metrics(), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(d.Verifier)

	rt := handlers.NewRealtimeHandler(d.Realtime, d.Log)
	r.GET("/ws", auth, rt.Serve)

	api := r.Group("/api", auth)

	actorHandler := handlers.NewActorHandler(d.Actors)
	api.POST("/actors", actorHandler.Register)
	api.GET("/actors/me", actorHandler.Me)
	api.GET("/actors/:id/profile", actorHandler.Profile)
	api.PUT("/actors/me/push-token", actorHandler.PushToken)

	tripHandler := handlers.NewTripHandler(d.Trips, d.Dispatch)
	api.POST("/trips/quote", tripHandler.Quote)
	api.POST("/trips", tripHandler.Create)
	api.GET("/trips/active", tripHandler.Active)
	api.GET("/trips/history", tripHandler.History)
	api.GET("/trips/:id", tripHandler.Get)
	api.POST("/trips/:id/cancel", tripHandler.Cancel)
	api.POST("/trips/:id/rate", tripHandler.Rate)

	chatHandler := handlers.NewChatHandler(d.Chat)
	api.GET("/trips/:id/messages", chatHandler.List)
	api.POST("/trips/:id/messages", chatHandler.Post)

	provider := api.Group("/provider", middleware.RequireRole(types.RoleProvider))
	providerHandler := handlers.NewProviderHandler(d.Trips, d.Dispatch, d.Actors, d.Position)
	provider.POST("/online", providerHandler.Online)
	provider.POST("/offline", providerHandler.Offline)
	provider.PUT("/location", providerHandler.Location)
	provider.POST("/trips/:id/accept", providerHandler.Accept)
	provider.POST("/trips/:id/decline", providerHandler.Decline)
	provider.POST("/trips/:id/start", providerHandler.Start)
	provider.POST("/trips/:id/pause", providerHandler.Pause)
	provider.POST("/trips/:id/resume", providerHandler.Resume)
	provider.POST("/trips/:id/complete", providerHandler.Complete)

	walletHandler := handlers.NewWalletHandler(d.Wallet)
	api.POST("/wallet/topups", walletHandler.TopUp)
	api.GET("/wallet/transactions", walletHandler.Transactions)
	api.GET("/wallet/summary", walletHandler.Summary)

	admin := api.Group("/admin", middleware.RequireRole(types.RoleAdmin))
	admin.POST("/topups/:id/confirm", walletHandler.Confirm)
	admin.POST("/topups/:id/reject", walletHandler.Reject)
	admin.POST("/providers/:id/validate", actorHandler.Validate)

	return r
}
