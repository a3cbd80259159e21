package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
)

type taxQuoteResponse struct {
	Subtotal       int64               `json:"subtotal"`
	DiscountAmount int64               `json:"discountAmount"`
	TaxAmount      int64               `json:"taxAmount"`
	Total          int64               `json:"total"`
	Jurisdiction   string              `json:"jurisdiction"`
	Breakdown      []taxdomain.TaxLine `json:"breakdown"`
	PromoCode      string              `json:"promoCode,omitempty"`
}

func (s *Server) CalculateTax(c *gin.Context) {
	var req taxdomain.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	quote, err := s.taxSvc.Quote(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	lines := quote.Breakdown.Lines
	if lines == nil {
		lines = []taxdomain.TaxLine{}
	}
	c.JSON(http.StatusOK, taxQuoteResponse{
		Subtotal:       quote.Subtotal,
		DiscountAmount: quote.DiscountAmount,
		TaxAmount:      quote.TaxAmount,
		Total:          quote.Total,
		Jurisdiction:   string(quote.Breakdown.Jurisdiction),
		Breakdown:      lines,
		PromoCode:      quote.PromoCode,
	})
}
