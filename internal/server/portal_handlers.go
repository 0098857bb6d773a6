package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/membersync/internal/ir"
)

// putPortalMember serves PUT /api/portal/members/:key. The body is an
// object of Portal-shaped logical fields.
func (s *Server) putPortalMember(c *gin.Context) {
	if s.deps.Portal == nil {
		unavailable(c, "portal")
		return
	}
	var fields ir.Object
	if err := c.ShouldBindJSON(&fields); err != nil {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	if len(fields) == 0 {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", "no fields given")
		return
	}

	rec, err := s.deps.Portal.Put(c.Request.Context(), c.Param("key"), fields)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// deletePortalMember serves DELETE /api/portal/members/:key.
func (s *Server) deletePortalMember(c *gin.Context) {
	if s.deps.Portal == nil {
		unavailable(c, "portal")
		return
	}
	rec, err := s.deps.Portal.Delete(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
