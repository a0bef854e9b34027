// README: Entry point; loads config, wires services, starts HTTP server and the dispatch scheduler.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diomy/internal/app"
	"diomy/internal/config"
	httptransport "diomy/internal/http"
	"diomy/internal/infra"
	"diomy/internal/logging"
	"diomy/internal/maps"
	"diomy/internal/modules/actor"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/location"
	"diomy/internal/modules/matching"
	"diomy/internal/modules/notify"
	"diomy/internal/modules/realtime"
	"diomy/internal/modules/trip"
	"diomy/internal/modules/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("DIOMY_FIREBASE_PROJECT_ID is required")
	}
	fbApp, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, fbApp)
	if err != nil {
		log.Fatalf("firebase auth: %v", err)
	}
	fcm, err := infra.NewFirebaseMessaging(ctx, fbApp)
	if err != nil {
		log.Fatalf("firebase messaging: %v", err)
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	positions := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.PositionTopic)
	defer positions.Close()

	changeFeed := feed.NewRedisFeed(redisClient, logger)

	var routes *maps.RouteService
	if cfg.Maps.APIKey != "" {
		if routes, err = maps.NewRouteService(cfg.Maps.APIKey); err != nil {
			log.Fatalf("maps init: %v", err)
		}
	} else {
		logger.Warn("DIOMY_MAPS_API_KEY not set; distances fall back to straight lines")
	}

	matchingStore := matching.NewStore(redisClient)

	actorStore := actor.NewStore(dbPool)
	actorSvc := actor.NewService(actorStore, matchingStore, logger)
	pusher := notify.NewFCMPusher(fcm, actorSvc, logger)

	walletStore := wallet.NewStore(dbPool)
	walletSvc := wallet.NewService(walletStore, logger)

	tripDeps := trip.Deps{
		Feed:        changeFeed,
		CancelGrace: cfg.Trip.CancelGrace(),
		Log:         logger,
	}
	realtimeDeps := realtime.Deps{
		Feed:         changeFeed,
		Profiles:     actorSvc,
		Positions:    matchingStore,
		Countdown:    time.Duration(cfg.Realtime.CountdownSeconds) * time.Second,
		ReplayWindow: time.Duration(cfg.Realtime.ReplayWindowSeconds) * time.Second,
		Log:          logger,
	}
	// A nil *RouteService must not become a non-nil interface.
	if routes != nil {
		tripDeps.Routes = routes
		realtimeDeps.Routes = routes
	}
	trips := app.NewTrips(dbPool, tripDeps)
	tripSvc, chatSvc := trips.Trips, trips.Chat
	realtimeDeps.Trips = tripSvc

	matchingSvc := matching.NewService(matchingStore, actorSvc, tripSvc, pusher, cfg.Matching, logger)

	var mirror location.Mirror
	if cfg.Firebase.DatabaseURL != "" {
		rtdb, err := infra.NewFirebaseDatabase(ctx, fbApp)
		if err != nil {
			log.Fatalf("firebase database: %v", err)
		}
		mirror = location.NewRTDBMirror(rtdb)
	}
	locationSvc := location.NewService(actorSvc, matchingStore, location.NewKafkaPublisher(positions), mirror, logger)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier: verifier,
		Trips:    tripSvc,
		Dispatch: matchingSvc,
		Actors:   actorSvc,
		Position: locationSvc,
		Wallet:   walletSvc,
		Chat:     chatSvc,
		Realtime: realtimeDeps,
		Log:      logger,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go matchingSvc.RunScheduler(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "err", err)
		}
	}()

	logger.Info("diomy api listening", "addr", cfg.HTTP.Addr, "dispatch_policy", cfg.Matching.DispatchPolicy)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
