package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listTables(c *gin.Context) {
	tables, err := s.floor.Tables(c.Request.Context(), identity(c).RestaurantID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tables)
}

// ownTable resolves the :id table and checks it belongs to the caller
func (s *Server) ownTable(c *gin.Context) (uint, bool) {
	id, ok := uintParam(c, "id")
	if !ok {
		return 0, false
	}
	table, err := s.store.Table(c.Request.Context(), id)
	if err == nil && table.RestaurantID != identity(c).RestaurantID {
		err = errForbidden
	}
	if err != nil {
		s.fail(c, err)
		return 0, false
	}
	return id, true
}

func (s *Server) tableAction(action func(ctx context.Context, tableID uint) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.ownTable(c)
		if !ok {
			return
		}
		if err := action(c.Request.Context(), id); err != nil {
			s.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) reserveTable(c *gin.Context)      { s.tableAction(s.floor.Reserve)(c) }
func (s *Server) cancelReservation(c *gin.Context) { s.tableAction(s.floor.CancelReservation)(c) }
func (s *Server) markUnavailable(c *gin.Context)   { s.tableAction(s.floor.MarkUnavailable)(c) }
func (s *Server) markAvailable(c *gin.Context)     { s.tableAction(s.floor.MarkAvailable)(c) }

func (s *Server) seatTable(c *gin.Context) {
	id, ok := s.ownTable(c)
	if !ok {
		return
	}
	ts, err := s.floor.Seat(c.Request.Context(), id, identity(c).StaffID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ts)
}

// ownTableSession resolves the :id table session and checks it belongs to
// the caller
func (s *Server) ownTableSession(c *gin.Context) (uint, bool) {
	id, ok := uintParam(c, "id")
	if !ok {
		return 0, false
	}
	ts, err := s.store.TableSession(c.Request.Context(), id)
	if err == nil && ts.RestaurantID != identity(c).RestaurantID {
		err = errForbidden
	}
	if err != nil {
		s.fail(c, err)
		return 0, false
	}
	return id, true
}

func (s *Server) printBill(c *gin.Context) {
	id, ok := s.ownTableSession(c)
	if !ok {
		return
	}
	ts, err := s.floor.PrintBill(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (s *Server) forceClose(c *gin.Context) {
	id, ok := s.ownTableSession(c)
	if !ok {
		return
	}
	if err := s.floor.ForceClose(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.orders.Forget(id)
	c.Status(http.StatusNoContent)
}
