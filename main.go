package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"locshare-cloud/internal/audit"
	"locshare-cloud/internal/auth"
	"locshare-cloud/internal/config"
	"locshare-cloud/internal/eventing"
	"locshare-cloud/internal/eventing/eventbus"
	eventingmemory "locshare-cloud/internal/eventing/infrastructure/memory"
	eventingrepo "locshare-cloud/internal/eventing/infrastructure/postgres"
	gfapp "locshare-cloud/internal/geofence/application"
	"locshare-cloud/internal/geofence/application/events"
	geofence "locshare-cloud/internal/geofence/domain"
	gfmemory "locshare-cloud/internal/geofence/infrastructure/memory"
	gfpostgres "locshare-cloud/internal/geofence/infrastructure/postgres"
	gfhttp "locshare-cloud/internal/geofence/interfaces/http"
	gfnotify "locshare-cloud/internal/geofence/notify"
	locationhttp "locshare-cloud/internal/location/interfaces/http"
	motionapp "locshare-cloud/internal/motion/application"
	motion "locshare-cloud/internal/motion/domain"
	motionmemory "locshare-cloud/internal/motion/infrastructure/memory"
	motionpostgres "locshare-cloud/internal/motion/infrastructure/postgres"
	motionhttp "locshare-cloud/internal/motion/interfaces/http"
	"locshare-cloud/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type repositories struct {
	geofences geofence.GeofenceRepository
	states    geofence.StateRepository
	events    geofence.EventRepository
	sessions  motion.SessionRepository
	audit     audit.Logger
}

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.Server.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.Server.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	} else {
		logger.Printf("DATABASE_URL not set, using in-memory storage")
	}

	metrics.Init(db, logger)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(events.LocationReceived{})
	registry.Register(events.GeofenceTriggered{})
	registry.Register(motionapp.DrivingSessionStarted{})
	registry.Register(motionapp.DrivingSessionEnded{})

	var (
		repos          repositories
		processedStore eventing.ProcessedStore
		publisher      *eventing.Publisher
	)
	if db != nil {
		repos = repositories{
			geofences: gfpostgres.NewGeofenceRepository(db),
			states:    gfpostgres.NewStateRepository(db),
			events:    gfpostgres.NewEventRepository(db),
			sessions:  motionpostgres.NewSessionRepository(db),
			audit:     audit.NewRepository(db),
		}
		outboxStore := eventingrepo.NewOutboxStore(db)
		processedStore = eventingrepo.NewProcessedStore(db)
		dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, eventingrepo.NewDLQStore(db))
		publisher = eventing.NewPublisher(baseBus, eventing.WithOutbox(outboxStore, dispatcher), eventing.WithPublisherLogger(logger))
		go dispatcher.Run(ctx, cfg.Server.DispatchInterval.Std(), cfg.Server.DispatchBatch, func(err error) {
			logger.Printf("outbox dispatch error: %v", err)
		})
	} else {
		repos = repositories{
			geofences: gfmemory.NewGeofenceRepository(),
			states:    gfmemory.NewStateRepository(),
			events:    gfmemory.NewEventRepository(),
			sessions:  motionmemory.NewSessionRepository(),
			audit:     audit.NewMemoryLogger(),
		}
		processedStore = eventingmemory.NewProcessedStore()
		publisher = eventing.NewPublisher(baseBus, eventing.WithPublisherLogger(logger))
	}

	engine := gfapp.NewEngine(gfapp.EngineConfig{
		ConfirmationDelay: cfg.Engine.ConfirmationDelay.Std(),
		MaxAccuracyMeters: cfg.Engine.MaxAccuracyMeters,
		RecentEventLimit:  cfg.Engine.RecentEventLimit,
	})

	// Escalation reads presence from the service, which in turn needs the
	// notifier. The proxy is filled once the service exists.
	presence := &presenceProxy{}
	broker := gfhttp.NewSSEBroker()
	notifiers := []gfapp.Notifier{broker}
	if cfg.Notify.WebhookURL != "" {
		channel, err := gfnotify.NewWebhookChannel(cfg.Notify.WebhookURL, gfnotify.WithRatePerMinute(cfg.Notify.RatePerMinute))
		if err != nil {
			logger.Fatalf("geofence webhook error: %v", err)
		}
		tpl, err := gfnotify.NewTemplate(cfg.Notify.Template)
		if err != nil {
			logger.Fatalf("geofence template error: %v", err)
		}
		webhookNotifier, err := gfnotify.NewNotifier(channel, tpl,
			gfnotify.WithEscalation(cfg.Notify.EscalationAfter.Std(), presence),
			gfnotify.WithCooldown(cfg.Notify.Cooldown.Std()),
			gfnotify.WithDedupeWindow(cfg.Notify.DedupeWindow.Std()),
			gfnotify.WithRequestTimeout(cfg.Notify.RequestTimeout.Std()),
			gfnotify.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("geofence notifier error: %v", err)
		}
		defer webhookNotifier.Close()
		notifiers = append(notifiers, webhookNotifier)
	}
	queue, err := gfnotify.NewQueue(gfnotify.NewMultiNotifier(notifiers...), cfg.Notify.QueueSize,
		gfnotify.WithQueueWorkers(cfg.Notify.QueueWorkers),
		gfnotify.WithQueueLogger(logger),
	)
	if err != nil {
		logger.Fatalf("notify queue error: %v", err)
	}

	geofenceService, err := gfapp.NewService(repos.geofences, repos.states, repos.events, engine,
		gfapp.WithNotifier(queue),
		gfapp.WithPublisher(publisher),
		gfapp.WithLogger(logger),
		gfapp.WithWorkers(cfg.Workers.BatchUsers),
	)
	if err != nil {
		logger.Fatalf("geofence service error: %v", err)
	}
	presence.service = geofenceService
	queue.Start(ctx)
	defer queue.Close()

	motionService, err := motionapp.NewService(repos.sessions, motion.NewDetector(motion.Config{
		StartSpeed: cfg.Motion.StartSpeed,
		StopSpeed:  cfg.Motion.StopSpeed,
		StartAfter: cfg.Motion.StartAfter.Std(),
		StopAfter:  cfg.Motion.StopAfter.Std(),
	}), motionapp.WithPublisher(publisher), motionapp.WithLogger(logger))
	if err != nil {
		logger.Fatalf("motion service error: %v", err)
	}
	eventing.SubscribeTyped(baseBus, "motion.sessions", motionService.HandleLocation, processedStore)
	eventing.SubscribeTyped(baseBus, "geofence.status", func(_ context.Context, evt events.GeofenceTriggered) error {
		if evt.UpdateStatus {
			logger.Printf("geofence status update: user=%s geofence=%s type=%s", evt.UserID, evt.GeofenceID, evt.Type)
		}
		return nil
	}, processedStore)

	geofenceHandler, err := gfhttp.NewHandler(geofenceService, logger, gfhttp.WithAuditLogger(repos.audit))
	if err != nil {
		logger.Fatalf("geofence handler error: %v", err)
	}
	ingestHandler, err := locationhttp.NewIngestHandler(geofenceService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	motionHandler, err := motionhttp.NewHandler(motionService)
	if err != nil {
		logger.Fatalf("motion handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.Server.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.Server.IngestSecret), cfg.Server.IngestMaxSkew.Std())

	mux := http.NewServeMux()
	mux.Handle("/ingest/locations", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/geofences", geofenceHandler)
	mux.Handle("/api/v1/geofences/", geofenceHandler)
	mux.Handle("/api/v1/geofence-events", geofenceHandler)
	mux.Handle("/api/v1/geofence-events/stream", gfhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/driving-sessions", motionHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s", cfg.Server.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("http server error: %v", err)
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the event stream working behind the logging middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// ---- Adapters ----

type presenceProxy struct {
	service *gfapp.Service
}

func (p *presenceProxy) Status(ctx context.Context, userID, geofenceID string) (geofence.Status, error) {
	if p.service == nil {
		return "", errors.New("presence: service not ready")
	}
	return p.service.Status(ctx, userID, geofenceID)
}
