package dto

import (
	"time"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"max=120"`
	Role        string `json:"role" validate:"omitempty,oneof=reporter manager technician"`
}

// LoginRequest payload for sign in. A non-empty role overwrites the stored one.
type LoginRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=120"`
	Role        string `json:"role" validate:"omitempty,oneof=reporter manager technician"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProfileResponse is the public shape of a profile.
type ProfileResponse struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
}

// TechnicianResponse is a technician directory entry.
type TechnicianResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewProfileResponse maps a profile, leaving out credentials.
func NewProfileResponse(p *domain.Profile) ProfileResponse {
	return ProfileResponse{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName, Role: p.Role}
}
