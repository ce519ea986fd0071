package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"maitred/internal/billing"
	"maitred/internal/floor"
	"maitred/internal/kitchen"
	"maitred/internal/models"
	"maitred/internal/ordering"
	"maitred/internal/store"
)

var errForbidden = errors.New("resource belongs to another restaurant")

func statusFor(err error) int {
	var (
		validation   *ordering.ValidationError
		insufficient *billing.InsufficientPaymentError
		selection    *models.SelectionError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &insufficient), errors.As(err, &selection),
		errors.Is(err, billing.ErrReasonRequired),
		errors.Is(err, kitchen.ErrInvalidTransition),
		errors.Is(err, kitchen.ErrUnsupportedItemType):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, ordering.ErrNoActiveSession),
		errors.Is(err, ordering.ErrItemNotFound),
		errors.Is(err, kitchen.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, floor.ErrSessionAlreadyOpen),
		errors.Is(err, floor.ErrSessionClosed),
		errors.Is(err, billing.ErrBillNotPrinted),
		errors.Is(err, billing.ErrNothingToPay),
		errors.Is(err, kitchen.ErrNoPendingTask),
		errors.Is(err, kitchen.ErrProposalCancelled):
		return http.StatusConflict
	case errors.Is(err, store.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
