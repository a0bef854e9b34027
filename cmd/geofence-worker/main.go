// README: Geofence worker; consumes provider positions from Kafka, fires
// arrival/proximity events and accumulates trip distance.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"diomy/internal/app"
	"diomy/internal/config"
	"diomy/internal/infra"
	"diomy/internal/logging"
	"diomy/internal/modules/actor"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/geofence"
	"diomy/internal/modules/location"
	"diomy/internal/modules/notify"
	"diomy/internal/modules/trip"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.NewLogger(cfg.Log.Level).With("component", "geofence-worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	actorSvc := actor.NewService(actor.NewStore(dbPool), nil, logger)

	// Arrival and proximity flags are published to the change feed like any
	// other trip update, with a system notice in the trip chat.
	tripSvc := app.NewTrips(dbPool, trip.Deps{
		Feed:        feed.NewRedisFeed(redisClient, logger),
		CancelGrace: cfg.Trip.CancelGrace(),
		Log:         logger,
	}).Trips

	var pusher notify.Pusher = notify.Nop{}
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, "")
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		fcm, err := infra.NewFirebaseMessaging(ctx, app)
		if err != nil {
			log.Fatalf("firebase messaging: %v", err)
		}
		pusher = notify.NewFCMPusher(fcm, actorSvc, logger)
	} else {
		logger.Warn("DIOMY_FIREBASE_PROJECT_ID not set; proximity pushes disabled")
	}

	odometer := location.NewOdometer(location.NewStore(redisClient), tripSvc)
	monitor := geofence.NewMonitor(tripSvc, odometer, pusher, cfg.Geofence, logger)

	reader := infra.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.PositionTopic, cfg.Kafka.GroupID)
	defer reader.Close()

	logger.Info("geofence worker consuming", "topic", cfg.Kafka.PositionTopic, "group", cfg.Kafka.GroupID)
	err = location.NewConsumer(reader, logger).Run(ctx, func(ctx context.Context, s location.Sample) error {
		_, err := monitor.Handle(ctx, s)
		return err
	})
	if err != nil {
		log.Fatal(err)
	}
}
