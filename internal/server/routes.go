package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"pal-backend/internal/admin"
	"pal-backend/internal/audit"
	"pal-backend/internal/auth"
	"pal-backend/internal/config"
	"pal-backend/internal/content"
	"pal-backend/internal/dashboard"
	"pal-backend/internal/gmb"
	"pal-backend/internal/jobs"
	"pal-backend/internal/models"
	"pal-backend/internal/notifications"
	"pal-backend/internal/photos"
	"pal-backend/internal/ratelimit"
	"pal-backend/internal/sms"
	"pal-backend/internal/speech"
	"pal-backend/internal/technician"
)

func registerRoutes(app *fiber.App, cfg *config.Config, deps Deps) {
	api := app.Group("/api")

	// Public
	loginLimit := ratelimit.Middleware(deps.Limiter, "login", cfg.TechLoginRateLimit, loginWindow)
	api.Post("/auth/register-admin", auth.RegisterAdminHandler(cfg))
	api.Post("/auth/login", loginLimit, auth.LoginHandler(cfg))
	api.Post("/auth/tech-login",
		ratelimit.Middleware(deps.Limiter, "tech-login", cfg.TechLoginRateLimit, loginWindow),
		auth.TechLoginHandler(cfg))
	api.Post("/auth/logout", auth.LogoutHandler())

	var deliver auth.LinkDeliverer
	var notifier jobs.SMSNotifier
	if deps.SMS != nil {
		deliver = deps.SMS
		notifier = deps.SMS
	}
	magicLimit := ratelimit.Middleware(deps.Limiter, "magic-link", magicLinkLimit, magicLinkWindow)
	api.Post("/auth/magic-link", magicLimit, auth.RequestMagicLinkHandler(cfg, deps.MagicLinks, deliver))
	api.Post("/auth/magic-link/verify", magicLimit, auth.VerifyMagicLinkHandler(cfg, deps.MagicLinks))

	if deps.GMB != nil {
		api.Get("/gmb/callback", gmb.CallbackHandler(cfg, deps.GMB))
	}
	api.Post("/sms/inbound", sms.InboundHandler(cfg.Twilio.AuthToken, strings.TrimRight(cfg.PublicBaseURL, "/")+"/api/sms/inbound"))

	// Protected
	protected := api.Group("", auth.JWTMiddleware(cfg))
	staff := auth.RequireRole(models.RoleAdmin, models.RoleFranchisee)

	protected.Get("/auth/me", auth.MeHandler())

	adminRoutes := protected.Group("/admin", auth.RequireRole(models.RoleAdmin))
	adminRoutes.Post("/franchisees", admin.CreateFranchiseeHandler())
	adminRoutes.Get("/franchisees", admin.ListFranchiseesHandler())
	adminRoutes.Put("/franchisees/:id", admin.UpdateFranchiseeHandler())
	adminRoutes.Delete("/franchisees/:id", admin.DeleteFranchiseeHandler())
	adminRoutes.Post("/franchisees/:id/users", admin.CreateFranchiseeOwnerHandler())
	adminRoutes.Get("/franchisees/:id/users", admin.ListFranchiseeUsersHandler())
	protected.Get("/franchisees/:id", admin.GetFranchiseeHandler())

	techs := protected.Group("/technicians", staff)
	techs.Post("/", technician.CreateTechnicianHandler())
	techs.Get("/", technician.ListTechniciansHandler())
	techs.Post("/import", technician.ImportTechniciansHandler())
	techs.Get("/:id", technician.GetTechnicianHandler())
	techs.Put("/:id", technician.UpdateTechnicianHandler())
	techs.Post("/:id/regenerate-code", technician.RegenerateCodeHandler())
	techs.Delete("/:id", technician.DeleteTechnicianHandler())

	protected.Post("/jobs", auth.RequireRole(models.RoleTechnician), jobs.CreateJobHandler(notifier))
	protected.Get("/jobs", jobs.ListJobsHandler())
	protected.Get("/jobs/export", staff, jobs.ExportJobsHandler())
	protected.Get("/jobs/:id", jobs.GetJobHandler())
	protected.Put("/jobs/:id/status", staff, jobs.UpdateStatusHandler())
	protected.Delete("/jobs/:id", staff, jobs.DeleteJobHandler())

	protected.Post("/photos", photos.UploadPhotoHandler(deps.Store, cfg.PhotoMaxBytes))
	protected.Get("/photos", photos.ListPhotosHandler())
	protected.Delete("/photos/:id", staff, photos.DeletePhotoHandler(deps.Store))

	gmbRoutes := protected.Group("/gmb", staff)
	gmbRoutes.Get("/status", gmb.StatusHandler())
	gmbRoutes.Delete("/token", gmb.DisconnectHandler())
	gmbRoutes.Put("/location", gmb.SetLocationHandler())
	if deps.GMB != nil {
		gmbRoutes.Get("/connect", gmb.ConnectHandler(cfg, deps.GMB))
		gmbRoutes.Post("/posts", gmb.PublishPostHandler(deps.GMB))
	}

	smsRoutes := protected.Group("/sms", staff)
	smsRoutes.Post("/consent", sms.RecordConsentHandler())
	smsRoutes.Get("/consent", sms.ListConsentHandler())
	if deps.SMS != nil {
		smsRoutes.Post("/send", sms.SendHandler(deps.SMS))
	}

	protected.Get("/notifications", notifications.ListHandler())
	protected.Get("/notifications/unread-count", notifications.UnreadCountHandler())
	protected.Post("/notifications/read-all", notifications.MarkAllReadHandler())
	protected.Post("/notifications/:id/read", notifications.MarkReadHandler())

	contentRoutes := protected.Group("/content", staff)
	contentRoutes.Get("/", content.ListContentHandler())
	if deps.Content != nil {
		contentRoutes.Post("/jobs/:id/summary", content.JobContentHandler(deps.Content, models.ContentSummary))
		contentRoutes.Post("/jobs/:id/social-post", content.JobContentHandler(deps.Content, models.ContentSocialPost))
		contentRoutes.Post("/jobs/:id/gmb-post", content.JobContentHandler(deps.Content, models.ContentGMBPost))
		contentRoutes.Post("/report", content.ReportHandler(deps.Content))
	}
	contentRoutes.Post("/:id/audio", speech.AudioHandler(deps.Speech, deps.Store))

	protected.Get("/dashboard/summary", dashboard.SummaryHandler())

	auditRoutes := protected.Group("/audit-logs", staff)
	auditRoutes.Get("/", audit.ListAuditLogsHandler())
	auditRoutes.Post("/:id/undo", audit.UndoAuditLogHandler())
}
