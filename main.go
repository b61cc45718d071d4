package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tourdesk_go/config"
	"tourdesk_go/controllers"
	"tourdesk_go/database"
	"tourdesk_go/database/seeders"
	"tourdesk_go/handlers"
	"tourdesk_go/middleware"
	"tourdesk_go/routes"
	"tourdesk_go/services"
	"tourdesk_go/services/channel"
	"tourdesk_go/services/channelsync"
	"tourdesk_go/services/events"
	"tourdesk_go/services/grouping"
	"tourdesk_go/services/notifications"
	"tourdesk_go/services/websocket"
	"tourdesk_go/storage"
)

const (
	serviceName = "tourdesk-api"
	version     = "1.0.0"
)

var (
	mintSubject = flag.String("mint-token", "", "print a signed JWT for this subject and exit")
	mintRole    = flag.String("role", middleware.RoleDispatcher, "role for -mint-token")
	mintGuideID = flag.Uint("guide-id", 0, "guide id for -mint-token with -role=guide")
)

func init() {
	// Load configuration
	config.LoadConfig()

	// Initialize logging
	setupLogging(config.AppConfig)
}

func main() {
	flag.Parse()
	cfg := config.AppConfig

	if *mintSubject != "" {
		if err := mintToken(cfg); err != nil {
			logrus.WithError(err).Fatal("Failed to mint token")
		}
		return
	}

	// Connect to database
	database.Connect()
	defer database.Close()
	db := database.GetDB()
	rdb := database.GetRedisClient()

	if cfg.SeedData {
		seeders.SeedAll(db)
	}

	loc := cfg.Sync.Location()
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := channelsync.MarkInterruptedRuns(startCtx, db, time.Now()); err != nil {
		logrus.WithError(err).Error("Failed to mark interrupted sync runs")
	} else if n > 0 {
		logrus.WithField("runs", n).Warn("Marked interrupted sync runs as failed")
	}

	// Create WebSocket hub first
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Outbound integrations
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		p, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			logrus.WithError(err).Error("RabbitMQ unavailable, domain events disabled")
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	var linePusher notifications.LinePusher
	if line := services.NewLineMessagingService(cfg.LineChannelSecret, cfg.LineChannelToken); line.Enabled() {
		linePusher = line
	}
	notifService := notifications.NewService(db, rdb, cfg.UseRedisNotifications, wsHub, linePusher)
	stopWorkers := make(chan struct{})
	notifService.StartWorker(stopWorkers)

	var locker channelsync.Locker = channelsync.NewMemoryLocker()
	if rdb != nil {
		locker = channelsync.NewRedisLocker(rdb)
	}

	// Booking channel, grouping and sync
	channelClient := channel.NewClient(channel.Config{
		BaseURL:        cfg.Channel.BaseURL,
		AccessKey:      cfg.Channel.AccessKey,
		SecretKey:      cfg.Channel.SecretKey,
		VendorID:       cfg.Channel.VendorID,
		PageSize:       cfg.Channel.PageSize,
		Timeout:        cfg.Channel.Timeout,
		MaxRetries:     cfg.Channel.MaxRetries,
		RetryBaseDelay: cfg.Channel.RetryBaseDelay,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.Channel.RateLimitRPS), cfg.Channel.RateLimitBurst),
	})
	engine := grouping.NewEngine(db,
		grouping.WithGuideDirectory(grouping.NewDBGuideDirectory(db)),
		grouping.WithNotifier(notifService),
		grouping.WithMaxPax(cfg.Sync.DefaultMaxPax),
		grouping.WithLogger(logrus.WithField("component", "grouping")),
	)
	orchestrator := channelsync.NewOrchestrator(db, channelClient, engine, channelsync.Config{
		TenantID:          cfg.Sync.TenantID,
		Location:          loc,
		DaysAhead:         cfg.Sync.DaysAhead,
		FullSyncDaysBack:  cfg.Sync.FullSyncDaysBack,
		FullSyncDaysAhead: cfg.Sync.FullSyncDaysAhead,
		AutoGroup:         cfg.Sync.AutoGroup,
		LockTTL:           cfg.Sync.LockTTL,
		ItemTimeout:       cfg.Sync.ItemTimeout,
	},
		channelsync.WithLocker(locker),
		channelsync.WithPublisher(publisher),
		channelsync.WithBroadcaster(wsHub),
	)

	// Storage
	var archiveService *services.SyncArchiveService
	if store, err := services.NewS3ArchiveStore(startCtx, cfg.AWSRegion, cfg.S3BucketName); err != nil {
		logrus.WithError(err).Warn("Sync history archive disabled; old runs will be pruned")
	} else {
		archiveService = services.NewSyncArchiveService(db, store)
	}
	fileStorage, err := storage.NewStorageService(cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.S3BucketName)
	if err != nil {
		logrus.WithError(err).Warn("Manifest uploads disabled")
	}
	cancelStart()

	// Scheduled jobs
	reminders := services.NewGuideReminderService(db, notifService, loc)
	scheduleConfig := services.ScheduleConfig{
		Location:      loc,
		SyncCron:      cfg.Sync.Cron,
		ReminderCron:  cfg.Sync.GuideReminderCron,
		MaintainCron:  cfg.Sync.HistoryCron,
		RetentionDays: cfg.Sync.HistoryRetentionDays,
	}
	scheduler := services.NewScheduleManager(scheduleConfig, db, orchestrator, reminders, archiveService)
	if err := scheduler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start scheduler")
	}

	healthService := services.NewHealthService(serviceName, version, cfg.AppEnv, db, rdb, channelClient.BreakerState)
	roster := services.NewRosterService(db)

	var archives controllers.ArchiveService
	if archiveService != nil {
		archives = archiveService
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		AppName:      serviceName + " " + version,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))
	app.Use(middleware.LoggerMiddleware())

	routes.SetupRoutes(app, cfg.JWTSecret, routes.Controllers{
		Sync:          controllers.NewSyncController(db, orchestrator, archives, loc),
		Groups:        controllers.NewGroupController(engine, roster, orchestrator, wsHub),
		Tours:         controllers.NewTourController(services.NewTourService(db, engine, publisher), engine),
		Guides:        controllers.NewGuideController(roster),
		Payments:      controllers.NewPaymentController(services.NewPaymentService(db, publisher)),
		Manifests:     controllers.NewManifestController(services.NewManifestService(db), fileStorage, cfg.Sync.ManifestPresignExpires),
		Notifications: controllers.NewNotificationController(notifService),
		Health:        controllers.NewHealthController(healthService),
		WebSocket:     controllers.NewWebSocketController(wsHub, cfg.JWTSecret),
		Webhook:       handlers.NewChannelWebhookHandler(cfg.Channel.WebhookSecret, orchestrator, loc),
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.AppEnv,
			"version":     version,
		}).Info("Server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logrus.Info("Shutting down")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		logrus.WithError(err).Error("HTTP shutdown failed")
	}
	scheduler.Stop()
	close(stopWorkers)
}

// mintToken prints a token for operators and scripts.
func mintToken(cfg *config.Config) error {
	var guideID *uint
	if *mintGuideID > 0 {
		id := *mintGuideID
		guideID = &id
	}
	token, err := middleware.GenerateToken(cfg.JWTSecret, cfg.JWTExpiresIn, *mintSubject, *mintSubject, *mintRole, guideID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// Log to stdout in development, to LOG_FILE otherwise
	if cfg.AppEnv == "development" || cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		logrus.WithError(err).Warn("Could not create log directory")
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(file)
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	// Check if it's a Fiber error
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
		"request_id": c.Locals("request_id"),
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
