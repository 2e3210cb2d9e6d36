// README: Entry point; loads config, wires driver sessions over the stores, starts the HTTP server.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"courier/internal/config"
	httptransport "courier/internal/http"
	"courier/internal/infra"
	"courier/internal/maps"
	"courier/internal/metrics"
	"courier/internal/modules/conversation"
	"courier/internal/modules/delivery"
	"courier/internal/modules/location"
	"courier/internal/modules/navigation"
	"courier/internal/modules/order"
	"courier/internal/modules/settlement"
	"courier/internal/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	sinks := location.MultiSink{location.NewPGSink(dbPool), location.NewRedisSink(redisClient)}
	if cfg.Firebase.DatabaseURL != "" {
		rtdb, err := infra.NewFirebaseDatabase(ctx, cfg.Firebase.DatabaseURL, cfg.Firebase.CredentialsFile)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		sinks = append(sinks, location.NewFirebaseSink(rtdb))
	}

	var routes delivery.RouteEstimator
	if cfg.Maps.APIKey != "" {
		rs, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Language, cfg.Maps.Region)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		routes = rs
	}

	messaging := infra.NewMessaging(cfg.Messaging)
	if err := messaging.Connect(); err != nil {
		log.Fatalf("messaging init: %v", err)
	}
	defer messaging.Close()
	events := delivery.NewMessagePublisher(messaging, cfg.Messaging.Topic)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)

	orderStore := order.NewStore(dbPool, cfg.Delivery.Currency)
	reader := order.NewReader(orderStore)
	reader.Observe(rec.Read)

	conversations := conversation.NewPGStore(dbPool)
	dispatcher := navigation.NewDispatcher()

	statuses := make([]order.Status, 0, len(cfg.Delivery.InFlightStatuses))
	for _, s := range cfg.Delivery.InFlightStatuses {
		statuses = append(statuses, order.Status(s))
	}

	sessions := delivery.NewRegistry(func(driverID types.ID) *delivery.Session {
		src := location.NewReportedSource(cfg.Tracking.MaxFixAge)
		probe := location.NewProbe(src, cfg.Tracking.FixTimeout)
		tracker := location.NewTracker(driverID, probe, sinks, cfg.Tracking.PollInterval)
		tracker.OnProbe(rec.Probe)

		deps := delivery.Deps{
			DriverID:      driverID,
			Orders:        orderStore,
			Reader:        reader,
			Tracker:       tracker,
			Conversations: conversation.NewBootstrapper(conversations),
			Navigator:     dispatcher,
			Settlement:    settlement.NewPGGateway(dbPool, driverID),
			Events:        events,
			Routes:        routes,
			Metrics:       rec,
			HoldFor:       cfg.Delivery.HoldToConfirm,
			Statuses:      statuses,
		}
		return &delivery.Session{
			DriverID:   driverID,
			Controller: delivery.NewController(deps),
			Location:   src,
			Probe:      probe,
		}
	})
	sessions.OnChange(rec.SessionOpened, rec.SessionClosed)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Sessions: sessions,
		Gatherer: reg,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}()

	slog.Info("courier api listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	sessions.CloseAll()
}
