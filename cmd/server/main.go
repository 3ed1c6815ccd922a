package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/bilheteria/backend/docs"
	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/database"
	"github.com/bilheteria/backend/internal/gateway"
	"github.com/bilheteria/backend/internal/logger"
	mW "github.com/bilheteria/backend/internal/middleware"
	"github.com/bilheteria/backend/internal/reconcile"
	"github.com/bilheteria/backend/internal/services"
	"github.com/bilheteria/backend/internal/store"
)

// @title Bilheteria Backend API
// @version 1.0
// @description Ticketing and merch storefront API with PIX payment reconciliation
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Invalid tunables must stop the process before the job can run.
		log.Fatalf("Failed to load config: %v", err)
	}

	zaplog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zaplog.Sync()

	docs.SwaggerInfo.Title = "Bilheteria Backend API"
	docs.SwaggerInfo.Description = "Ticketing and merch storefront API with PIX payment reconciliation"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		zaplog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	zaplog.Info("database connection established")

	redisClient, err := database.NewRedis(cfg.Redis)
	if err != nil {
		zaplog.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	zaplog.Info("redis connection established")

	// Stores
	orders := store.NewOrders(db)
	catalog := store.NewCatalog(db)
	audit := store.NewAudit(db)
	admins := store.NewAdmins(db)

	// Reconciliation job
	gatewayClient := gateway.NewClient(cfg.Gateway, zaplog)
	lockManager := reconcile.NewLockManager(redisClient, cfg.Reconcile.LockTTL)
	metrics := reconcile.NewMetrics()
	job := reconcile.NewJob(cfg.Reconcile, gatewayClient, orders, audit, lockManager, metrics, zaplog)

	// Services
	authService := services.NewAuthService(admins, redisClient, cfg.JWT, cfg.Argon2, zaplog)
	catalogService := services.NewCatalogService(catalog, zaplog)
	orderService := services.NewOrderService(orders, catalog, gatewayClient, redisClient, zaplog)
	webhookService := services.NewWebhookService(orders, audit, cfg.Gateway, zaplog)
	reconcileService := services.NewReconcileService(job, audit, metrics, zaplog)

	auth := mW.NewAuth(cfg.JWT, redisClient)

	// Scheduler
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Reconcile.CronSchedule, func() {
		job.Run(context.Background())
	})
	if err != nil {
		zaplog.Fatal("failed to schedule reconcile job", zap.Error(err))
	}
	scheduler.Start()
	zaplog.Info("reconcile job scheduled", zap.String("cron", cfg.Reconcile.CronSchedule))

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:"+cfg.Server.Port+"/swagger/doc.json"),
	))

	// Gateway notifications
	r.Post("/webhooks/pix", webhookService.HandlePix)

	// Static file server for event banners
	r.Handle("/static/event-banners/*", http.StripPrefix("/static/event-banners/",
		mW.StaticFileServer("./static/event-banners")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public storefront endpoints
		r.Get("/events", catalogService.ListEvents)
		r.Get("/events/{eventId}", catalogService.GetEvent)
		r.Get("/products", catalogService.ListProducts)
		r.Post("/orders", orderService.Checkout)
		r.Get("/orders/{orderId}", orderService.GetOrder)
		r.Get("/orders/{orderId}/tickets", orderService.GetTickets)

		r.Post("/admin/login", authService.Login)
		r.Post("/admin/logout", authService.Logout)

		// Back-office endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/admin/events", catalogService.CreateEvent)
			r.Put("/admin/events/{eventId}", catalogService.UpdateEvent)
			r.Post("/admin/products", catalogService.CreateProduct)
			r.Put("/admin/products/{productId}", catalogService.UpdateProduct)

			r.Get("/admin/orders", orderService.ListOrders)

			r.Get("/admin/reconcile/outcomes", reconcileService.ListOutcomes)
			r.Get("/admin/reconcile/metrics", reconcileService.Metrics)
			r.Post("/admin/reconcile/run", reconcileService.RunNow)
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zaplog.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zaplog.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zaplog.Info("server shutting down")

	// Stop scheduling new cycles; a running cycle finishes on its own
	// and its lease expires even if we exit first.
	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zaplog.Fatal("server forced to shutdown", zap.Error(err))
	}

	zaplog.Info("server stopped")
}
