package service

import (
	"errors"

	"github.com/spec-kit/breakdown-service/internal/repository"
	"github.com/spec-kit/breakdown-service/internal/workflow"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

// storeError maps repository failures onto the error taxonomy.
func storeError(resource, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	case errors.Is(err, repository.ErrStatusMismatch):
		return apperrors.NewInvalidTransition("status changed concurrently", map[string]any{"id": id})
	default:
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		return apperrors.NewStoreError(err)
	}
}

// workflowError maps a lifecycle denial onto the error taxonomy.
func workflowError(err error, details map[string]any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, workflow.ErrUnauthorized):
		return apperrors.NewForbidden(err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition):
		return apperrors.NewInvalidTransition(err.Error(), details)
	default:
		return apperrors.NewInternalError(err)
	}
}
