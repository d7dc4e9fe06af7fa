package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// listSources handles GET /sources.
func (s *Server) listSources(c *gin.Context) {
	sources, err := s.store.ListSources(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	summaries := make([]sourceSummary, 0, len(sources))
	for _, src := range sources {
		summaries = append(summaries, newSourceSummary(src))
	}
	c.JSON(http.StatusOK, summaries)
}

// getSource handles GET /sources/:id.
func (s *Server) getSource(c *gin.Context) {
	src, err := s.store.GetSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, src)
}

// createSource handles POST /sources. A near-duplicate existing source
// (cosine similarity of name+organization tokens at or above the
// configured threshold) rejects the create with 409, per §6.
func (s *Server) createSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	existing, err := s.store.ListSources(ctx)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	for _, other := range existing {
		if sourceSimilarity(req.Name, req.Organization, other.Name, other.Organization) >= s.similarityThreshold {
			c.JSON(http.StatusConflict, errorBody{Error: "a source with a very similar name/organization already exists: " + other.ID})
			return
		}
	}

	src := req.toDomain(uuid.NewString())
	if err := s.store.CreateSource(ctx, src); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": src.ID})
}

// updateSource handles PUT /sources/:id.
func (s *Server) updateSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	src := req.toDomain(c.Param("id"))
	if err := s.store.UpdateSource(c.Request.Context(), src); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, src)
}

// deleteSource handles DELETE /sources/:id.
func (s *Server) deleteSource(c *gin.Context) {
	if err := s.store.DeleteSource(c.Request.Context(), c.Param("id")); err != nil {
		respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
