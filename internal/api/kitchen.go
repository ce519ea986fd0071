package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"maitred/internal/models"
)

type transitionRequest struct {
	Status models.TaskStatus `json:"status" binding:"required"`
}

func (s *Server) board(c *gin.Context) {
	id := identity(c)
	role := models.StaffRole(c.Query("role"))
	if role == "" && (id.Role == models.RoleKitchen || id.Role == models.RoleBar) {
		role = id.Role
	}
	entries, err := s.kitchen.Board(c.Request.Context(), id.RestaurantID, role)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ownTask resolves the :id task and checks it belongs to the caller
func (s *Server) ownTask(c *gin.Context) (uint, bool) {
	id, ok := uintParam(c, "id")
	if !ok {
		return 0, false
	}
	task, err := s.store.KitchenTask(c.Request.Context(), id)
	if err == nil && task.RestaurantID != identity(c).RestaurantID {
		err = errForbidden
	}
	if err != nil {
		s.fail(c, err)
		return 0, false
	}
	return id, true
}

func (s *Server) applyTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := s.ownTask(c)
	if !ok {
		return
	}
	task, err := s.kitchen.ApplyTransition(c.Request.Context(), id, req.Status, identity(c).StaffID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) proposeTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := s.ownTask(c)
	if !ok {
		return
	}
	p, err := s.kitchen.Propose(c.Request.Context(), id, req.Status, identity(c).StaffID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, p)
}

func (s *Server) discardTask(c *gin.Context) {
	id, ok := s.ownTask(c)
	if !ok {
		return
	}
	if err := s.kitchen.Discard(c.Request.Context(), id, identity(c).StaffID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) confirmProposal(c *gin.Context) {
	p, err := s.kitchen.Proposal(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	task, err := p.Confirm(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelProposal(c *gin.Context) {
	p, err := s.kitchen.Proposal(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !p.Cancel() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "transition already applied"})
		return
	}
	c.Status(http.StatusNoContent)
}
