package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourdesk_go/controllers"
	"tourdesk_go/handlers"
	"tourdesk_go/middleware"
)

// Controllers bundles everything SetupRoutes mounts.
type Controllers struct {
	Sync          *controllers.SyncController
	Groups        *controllers.GroupController
	Tours         *controllers.TourController
	Guides        *controllers.GuideController
	Payments      *controllers.PaymentController
	Manifests     *controllers.ManifestController
	Notifications *controllers.NotificationController
	Health        *controllers.HealthController
	WebSocket     *controllers.WebSocketController
	Webhook       *handlers.ChannelWebhookHandler
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, jwtSecret string, ctl Controllers) {
	// Unauthenticated endpoints
	app.Get("/health", ctl.Health.GetHealthStatus)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Post("/webhooks/channel", ctl.Webhook.Handle)

	// WebSocket authenticates with ?token=
	app.Use("/ws", ctl.WebSocket.Upgrade)
	app.Get("/ws", ctl.WebSocket.Handler())

	api := app.Group("/api", middleware.JWTMiddleware(jwtSecret), middleware.AuditMiddleware())
	desk := middleware.RequireDispatcherOrAbove()
	admin := middleware.RequireOwnerOrAdmin()

	// Sync
	sync := api.Group("/sync", desk)
	sync.Post("/", ctl.Sync.TriggerSync)
	sync.Get("/history", ctl.Sync.GetHistory)
	sync.Get("/history/:id", ctl.Sync.GetHistoryRun)
	sync.Get("/archives", ctl.Sync.ListArchives)
	sync.Get("/archives/:id/download", ctl.Sync.DownloadArchive)
	sync.Post("/archives", admin, ctl.Sync.ArchiveHistory)

	// Groups
	groups := api.Group("/groups", desk)
	groups.Get("/", ctl.Groups.GetGroups)
	groups.Get("/:id", ctl.Groups.GetGroup)
	groups.Post("/auto", ctl.Groups.AutoGroup)
	groups.Post("/merge", ctl.Groups.MergeTours)
	groups.Put("/:id/guide", ctl.Groups.SetGuide)
	groups.Post("/:id/recalculate", ctl.Groups.Recalculate)

	// Tours; guides may read their own
	tours := api.Group("/tours")
	tours.Get("/", ctl.Tours.GetTours)
	tours.Get("/:id", ctl.Tours.GetTour)
	tours.Put("/:id/guide", desk, ctl.Tours.SetGuide)
	tours.Post("/:id/cancel", desk, ctl.Tours.Cancel)
	tours.Post("/:id/unmerge", desk, ctl.Tours.Unmerge)
	tours.Get("/:id/payments", desk, ctl.Payments.ListPayments)
	tours.Post("/:id/payments", desk, ctl.Payments.RecordPayment)

	api.Delete("/payments/:id", desk, ctl.Payments.DeletePayment)

	// Guides
	guides := api.Group("/guides", desk)
	guides.Get("/", ctl.Guides.GetGuides)
	guides.Get("/:id", ctl.Guides.GetGuide)

	// Manifests
	api.Get("/manifests/:date", desk, ctl.Manifests.GetManifest)

	// Notifications
	notifications := api.Group("/notifications")
	notifications.Get("/", ctl.Notifications.GetNotifications)
	notifications.Patch("/read-all", ctl.Notifications.MarkAllAsRead)
	notifications.Patch("/:id/read", ctl.Notifications.MarkAsRead)

	api.Get("/ws/stats", admin, ctl.WebSocket.GetStats)
}
