package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
)

// CreateRefund answers 201 once the gateway confirmed the refund and 202
// while it waits on a scheduled retry.
func (s *Server) CreateRefund(c *gin.Context) {
	var req refunddomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.refunds.Refund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetRefund(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	refund, err := s.refunds.GetRefund(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req refunddomain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = id

	resp, err := s.refunds.CancelSubscription(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
