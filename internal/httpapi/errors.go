package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// respondStoreError maps a storage/domain error onto the appropriate HTTP
// status, matching pkg/api/handlers.go's gin.H{"error": ...} response shape.
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConcurrentModification):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	case domain.IsFieldError(err):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}
