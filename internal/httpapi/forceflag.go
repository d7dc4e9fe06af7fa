package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getGlobalForceFlag handles GET /system-config/global_force_full_reprocessing.
func (s *Server) getGlobalForceFlag(c *gin.Context) {
	value, err := s.store.GetGlobalForceFlag(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, forceFlagRequest{Value: value})
}

// putGlobalForceFlag handles PUT /system-config/global_force_full_reprocessing.
func (s *Server) putGlobalForceFlag(c *gin.Context) {
	var req forceFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.flags.SetGlobal(c.Request.Context(), req.Value); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
