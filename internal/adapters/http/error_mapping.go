package httpadapter

import (
	"net/http"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrNoLLMProviders):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrMailbox):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
