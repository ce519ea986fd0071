package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"maitred/internal/billing"
	"maitred/internal/models"
	"maitred/internal/ordering"
)

type addItemRequest struct {
	MenuItemID uint             `json:"menu_item_id" binding:"required"`
	Selection  models.Selection `json:"selection"`
}

type quantityRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type tipRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type settleRequest struct {
	Cash  decimal.Decimal `json:"cash"`
	Card  decimal.Decimal `json:"card"`
	Scope billing.Scope   `json:"scope"`
}

// session loads the order session of the :id table session
func (s *Server) session(c *gin.Context) (*ordering.Session, bool) {
	id, ok := s.ownTableSession(c)
	if !ok {
		return nil, false
	}
	sess, err := s.orders.Open(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) getOrder(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	item, err := s.orders.AddOrIncrementItem(c.Request.Context(), sess, req.MenuItemID, req.Selection)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) changeQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	item, err := s.orders.ChangeQuantity(c.Request.Context(), sess, c.Param("key"), req.Delta)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) annotateNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	item, err := s.orders.AnnotateNote(c.Request.Context(), sess, c.Param("key"), req.Note)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) removeItem(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := s.orders.RemoveItem(c.Request.Context(), sess, c.Param("key")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fireCourse(c *gin.Context) {
	course, err := strconv.Atoi(c.Param("course"))
	if err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	n, err := s.orders.FireCourse(c.Request.Context(), sess, course)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": n})
}

func (s *Server) voidItem(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := s.billing.Void(c.Request.Context(), sess, c.Param("key"), req.Reason, identity(c).StaffID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) compItem(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := s.billing.Comp(c.Request.Context(), sess, c.Param("key"), req.Reason, identity(c).StaffID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) setTip(c *gin.Context) {
	var req tipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := s.billing.SetTip(c.Request.Context(), sess, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) quote(c *gin.Context) {
	var scope billing.Scope
	if err := c.ShouldBindJSON(&scope); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	q, err := billing.QuoteFor(sess.Snapshot(), scope)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) settle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	id := identity(c)
	result, err := s.billing.Settle(c.Request.Context(), sess,
		ordering.Tender{Cash: req.Cash, Card: req.Card},
		req.Scope,
		billing.Cashier{ID: id.StaffID, Name: id.Name})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
