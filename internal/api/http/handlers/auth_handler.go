package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/breakdown-service/internal/api/dto"
	"github.com/spec-kit/breakdown-service/internal/auth"
	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/service"
)

// AuthHandler exposes identity endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        domain.Role(req.Role),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(authPayload(result))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	input := service.SignInInput{Email: req.Email, Password: req.Password, DisplayName: req.DisplayName}
	if req.Role != "" {
		role := domain.Role(req.Role)
		input.Role = &role
	}
	result, err := h.auth.SignIn(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.JSON(authPayload(result))
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	claims, _ := auth.ClaimsFromContext(c)
	if err := h.auth.SignOut(c.UserContext(), principal, claims); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	profile, err := h.auth.Profile(c.UserContext(), principal.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewProfileResponse(profile)})
}

// Technicians handles GET /technicians.
func (h *AuthHandler) Technicians(c *fiber.Ctx) error {
	profiles, err := h.auth.Technicians(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.TechnicianResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, dto.TechnicianResponse{ID: p.ID, Name: p.DisplayName, Email: p.Email})
	}
	return c.JSON(fiber.Map{"data": items})
}

func authPayload(result *service.AuthResult) fiber.Map {
	return fiber.Map{
		"data": fiber.Map{
			"profile": dto.NewProfileResponse(result.Profile),
			"auth":    dto.AuthResponse{Token: result.Token, ExpiresAt: result.ExpiresAt},
		},
	}
}
