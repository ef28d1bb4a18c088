package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/breakdown-service/internal/api/http/handlers"
	"github.com/spec-kit/breakdown-service/internal/auth"
	"github.com/spec-kit/breakdown-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Breakdowns     *handlers.BreakdownsHandler
	Stream         *handlers.StreamHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	authenticated := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireAnyRole()}
	authGroup.Post("/logout", append(authenticated, cfg.Auth.Logout)...)
	authGroup.Get("/me", append(authenticated, cfg.Auth.Me)...)
	app.Get("/technicians", append(authenticated, auth.RequireRole(domain.RoleManager), cfg.Auth.Technicians)...)

	breakdowns := app.Group("/breakdowns", authenticated...)
	breakdowns.Post("/", auth.RequireRole(domain.RoleReporter), cfg.Breakdowns.Create)
	breakdowns.Get("/", cfg.Breakdowns.List)
	breakdowns.Get("/stream", cfg.Stream.Stream)
	breakdowns.Get("/:id", cfg.Breakdowns.Get)
	breakdowns.Get("/:id/actions", cfg.Breakdowns.Actions)
	breakdowns.Post("/:id/transitions", cfg.Breakdowns.Transition)
	breakdowns.Post("/:id/assignment", auth.RequireRole(domain.RoleManager), cfg.Breakdowns.Assign)
	breakdowns.Put("/:id/fix-details", cfg.Breakdowns.SetFixDetails)
	breakdowns.Post("/:id/updates", cfg.Breakdowns.PostUpdate)
}
