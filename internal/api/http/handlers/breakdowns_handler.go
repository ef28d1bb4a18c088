package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/breakdown-service/internal/api/dto"
	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/projector"
	"github.com/spec-kit/breakdown-service/internal/service"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

// BreakdownsHandler serves breakdown reads and mutations.
type BreakdownsHandler struct {
	gateway   *service.Gateway
	projector *projector.Projector
	auth      *service.AuthService
}

// NewBreakdownsHandler constructs handler.
func NewBreakdownsHandler(gateway *service.Gateway, proj *projector.Projector, authService *service.AuthService) *BreakdownsHandler {
	return &BreakdownsHandler{gateway: gateway, projector: proj, auth: authService}
}

// Create handles POST /breakdowns.
func (h *BreakdownsHandler) Create(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateBreakdownRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ticket, err := h.gateway.CreateTicket(c.UserContext(), principal, service.CreateTicketInput{
		Message:  req.Message,
		Priority: domain.TicketPriority(req.Priority),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewBreakdownResponse(ticket)})
}

// List handles GET /breakdowns?scope=own|board|assigned.
func (h *BreakdownsHandler) List(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	view, err := h.projector.Snapshot(c.UserContext(), principal, projector.Scope(c.Query("scope")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewViewResponse(view)})
}

// Get handles GET /breakdowns/:id.
func (h *BreakdownsHandler) Get(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.gateway.GetTicket(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBreakdownResponse(ticket)})
}

// Transition handles POST /breakdowns/:id/transitions.
func (h *BreakdownsHandler) Transition(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ticket, err := h.gateway.Transition(c.UserContext(), principal, c.Params("id"), service.TransitionInput{
		Status:     domain.TicketStatus(req.Status),
		FixDetails: req.FixDetails,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBreakdownResponse(ticket)})
}

// Assign handles POST /breakdowns/:id/assignment.
func (h *BreakdownsHandler) Assign(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	technician, err := h.auth.Profile(c.UserContext(), req.TechnicianID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return apperrors.NewValidationError("unknown technician", map[string]any{"technician_id": req.TechnicianID})
		}
		return err
	}
	if technician.Role != domain.RoleTechnician {
		return apperrors.NewValidationError("profile is not a technician", map[string]any{"technician_id": req.TechnicianID})
	}

	ticket, err := h.gateway.Assign(c.UserContext(), principal, c.Params("id"),
		domain.Assignee{ID: technician.ID, Name: technician.DisplayName}, technician.Email)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBreakdownResponse(ticket)})
}

// SetFixDetails handles PUT /breakdowns/:id/fix-details.
func (h *BreakdownsHandler) SetFixDetails(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.FixDetailsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ticket, err := h.gateway.SetFixDetails(c.UserContext(), principal, c.Params("id"), req.FixDetails)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBreakdownResponse(ticket)})
}

// PostUpdate handles POST /breakdowns/:id/updates.
func (h *BreakdownsHandler) PostUpdate(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	entry, err := h.gateway.PostUpdate(c.UserContext(), principal, c.Params("id"), req.Message)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewUpdateResponse(entry)})
}

// Actions handles GET /breakdowns/:id/actions.
func (h *BreakdownsHandler) Actions(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	actions, err := h.gateway.AllowedActions(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": actions})
}
