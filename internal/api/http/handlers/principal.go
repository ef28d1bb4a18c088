package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/breakdown-service/internal/api/dto"
	"github.com/spec-kit/breakdown-service/internal/auth"
	"github.com/spec-kit/breakdown-service/internal/domain"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

func currentPrincipal(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return dto.Validate(out)
}
