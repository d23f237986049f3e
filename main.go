package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"klassenbuch_go/config"
	"klassenbuch_go/controllers"
	"klassenbuch_go/database"
	"klassenbuch_go/database/seeders"
	"klassenbuch_go/handlers"
	"klassenbuch_go/middleware"
	"klassenbuch_go/routes"
	"klassenbuch_go/services"
	"klassenbuch_go/services/excuse"
	"klassenbuch_go/services/grid"
	"klassenbuch_go/services/klassenbuch"
	"klassenbuch_go/services/notifications"
	"klassenbuch_go/services/realtime"
	"klassenbuch_go/services/reports"
	"klassenbuch_go/services/statistics"
	"klassenbuch_go/services/store"
	"klassenbuch_go/services/websocket"
	"klassenbuch_go/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	config.LoadConfig()
	cfg := config.AppConfig
	setupLogging(cfg)

	statistics.AvgLessonsPerDay = cfg.AvgLessonsPerDay

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Data source: MySQL, or generated data when requested or in development
	// without a database.
	var (
		source     klassenbuch.DataSource
		gridSource grid.Source
		persister  excuse.Persister
	)
	useDB := !cfg.UseSyntheticData
	if useDB {
		if err := database.Connect(); err != nil {
			if !cfg.IsDevelopment() {
				logrus.WithError(err).Fatal("Failed to connect to database")
			}
			logrus.WithError(err).Warn("Database unavailable, falling back to synthetic data")
			useDB = false
		}
	}
	if useDB {
		if cfg.IsDevelopment() {
			if err := seeders.SeedAll(ctx, database.DB, cfg.SchoolID, time.Now()); err != nil {
				logrus.WithError(err).Warn("Failed to seed development data")
			}
		}
		gormSource := database.NewGormSource(database.DB)
		source, gridSource, persister = gormSource, gormSource, gormSource
	} else {
		database.ConnectRedis()
		memSource := seeders.NewMemorySource(cfg.SchoolID, time.Now())
		source, persister = memSource, memSource
		gridSource = grid.SyntheticSource{Author: "Klassenbuch"}
		logrus.WithField("school_id", cfg.SchoolID).Info("Using synthetic data")
	}

	st := store.New()
	svc := klassenbuch.NewService(source, st, gridSource)
	svc.Weeks = cfg.CourseWeeks
	initCtx, initCancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := svc.Refresh(initCtx); err != nil {
		logrus.WithError(err).Error("Initial refresh failed, serving an empty Klassenbuch")
	}
	initCancel()

	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Excuse lifecycle with write-back and notifications
	mgr := excuse.NewManager(st)
	mgr.Persister = persister
	line := services.NewLineMessagingService(cfg)
	notifService := notifications.NewService(wsHub, database.GetRedisClient(), cfg.UseRedisNotifications)
	if line.Enabled() && cfg.LineGroupID != "" {
		notifService.SetLine(line, cfg.LineGroupID)
	}
	mgr.AddPublisher(notifService)
	stopNotif := make(chan struct{})
	notifService.StartWorker(stopNotif)

	// Realtime change feed
	var bus realtime.Bus = realtime.NewLocalBus()
	if cfg.UseRedisRealtime && database.GetRedisClient() != nil {
		bus = realtime.NewRedisBus(database.GetRedisClient())
	}
	unsubscribe, err := bus.Subscribe(ctx, cfg.SchoolID, realtime.NewHandler(svc, wsHub).Handle)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to subscribe to realtime changes")
	}

	scheduleManager, err := services.NewScheduleManager(svc, cfg.ConsistencyCron, cfg.RefreshCron)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid schedule")
	}
	scheduleManager.Start()

	var archiver *reports.Archiver
	if storageService, err := storage.NewStorageService(ctx, cfg); err != nil {
		logrus.WithError(err).Warn("Report archive disabled")
	} else {
		archiver = reports.NewArchiver(storageService, database.DB)
	}

	health := services.NewHealthService("Klassenbuch API", version)
	health.SetStore(st)
	health.SetClientCounter(wsHub.GetClientCount)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization," + middleware.HeaderRequestID,
	}))
	app.Use(middleware.RequestID())
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.LogActivityMiddleware())

	routes.SetupRoutes(app, routes.Controllers{
		Klassenbuch: controllers.NewKlassenbuchController(svc, archiver),
		Excuses:     controllers.NewExcuseController(mgr),
		Realtime:    controllers.NewRealtimeController(bus, cfg.SchoolID),
		WebSocket:   controllers.NewWebSocketController(wsHub),
		Health:      controllers.NewHealthController(health),
	})

	if cfg.LineChannelSecret != "" {
		lineHandler := handlers.NewLineWebhookHandler(cfg.LineChannelSecret, cfg.LineGroupID, line)
		app.Post("/line/webhook", lineHandler.Handle)
		logrus.Info("LINE webhook enabled at /line/webhook")
	}

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"version":     version,
		"environment": cfg.AppEnv,
		"students":    st.Len(),
	}).Info("Klassenbuch API starting")

	// Listen on all interfaces for Docker/production
	if err := app.Listen(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}

	scheduleManager.Stop()
	close(stopNotif)
	unsubscribe()
	cancel()
	database.Close()
}

// setupLogging configures logrus from LOG_LEVEL and LOG_FILE
func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// Log to stdout in development, to the log file otherwise
	if cfg.IsDevelopment() || cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		logrus.WithError(err).Warn("Could not create log directory")
		return
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.WithError(err).Warn("Could not open log file, logging to stdout")
		return
	}
	logrus.SetOutput(file)
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"error":      err.Error(),
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"status":     code,
		"request_id": middleware.GetRequestID(c),
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
