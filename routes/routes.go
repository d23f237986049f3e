package routes

import (
	"klassenbuch_go/controllers"
	"klassenbuch_go/middleware"

	"github.com/gofiber/fiber/v2"
)

// Controllers bundles the handlers the routes are bound to.
type Controllers struct {
	Klassenbuch *controllers.KlassenbuchController
	Excuses     *controllers.ExcuseController
	Realtime    *controllers.RealtimeController
	WebSocket   *controllers.WebSocketController
	Health      *controllers.HealthController
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, ctl Controllers) {
	app.Get("/health", ctl.Health.GetHealthStatus)
	app.Get("/health/live", ctl.Health.GetLiveness)

	api := app.Group("/api")
	// Roles only identify the actor; any valid token may use the API.
	protected := api.Group("/klassenbuch", middleware.JWTMiddleware())

	kb := ctl.Klassenbuch
	protected.Get("/classes", kb.GetClasses)
	protected.Get("/classes/:id/students", kb.GetStudents)
	protected.Get("/classes/:id/timetable", kb.GetTimetable)
	protected.Get("/classes/:id/statistics", kb.GetClassStatistics)
	protected.Get("/classes/:id/statistics/export", kb.ExportClassStatistics)
	protected.Post("/classes/:id/statistics/archive", kb.ArchiveClassStatistics)
	protected.Get("/statistics", kb.GetAllStatistics)
	protected.Get("/students/search", kb.SearchStudents)
	protected.Get("/students/:id/statistics", kb.GetStudentStatistics)
	protected.Get("/students/:id/subjects", kb.GetSubjectBreakdown)
	protected.Get("/courses/:id", kb.GetCourse)
	protected.Get("/courses/:id/students", kb.GetCourseStudents)
	protected.Post("/refresh", kb.Refresh)

	ex := ctl.Excuses
	protected.Post("/students/:id/excuses", ex.ConvertToExcused)
	protected.Put("/students/:id/excuses/:itemType/:itemId", ex.EditExcuseText)
	protected.Delete("/students/:id/excuses/:itemType/:itemId", ex.DeleteExcuse)
	protected.Patch("/students/:id/absences/:itemId", ex.UpdateAbsence)
	protected.Patch("/students/:id/lateness/:itemId", ex.UpdateLateness)

	protected.Post("/changes", ctl.Realtime.PublishChanges)
	protected.Get("/ws/stats", ctl.WebSocket.GetWebSocketStats)

	// WebSocket connection endpoint; the token travels in ?token=
	app.Use("/ws", ctl.WebSocket.Upgrade)
	app.Get("/ws", ctl.WebSocket.WebSocketHandler())
}
