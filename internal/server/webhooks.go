package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paycore/internal/observability/logger"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"go.uber.org/zap"
)

// HandlePaymentWebhook verifies and applies one gateway delivery. Any non-2xx
// makes the gateway redeliver, so only verification and parse failures get a
// 4xx; handler failures surface as 5xx.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	result, err := s.webhooks.Ingest(ctx, provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, deliveryError(err))
		return
	}

	c.Set("webhook_event_id", result.EventID)
	if result.Duplicate {
		logger.FromContext(ctx).Debug("webhook duplicate acknowledged",
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType),
		)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// deliveryError keeps verification and parse failures as 400s. Everything
// else is reported as a webhook failure so the gateway redelivers.
func deliveryError(err error) error {
	kind := paymenterror.KindOf(err)
	if kind == paymenterror.KindValidationError {
		return err
	}
	if pe, ok := paymenterror.As(err); ok && isServerSideKind(pe.Kind) {
		return err
	}
	return paymenterror.Wrap(paymenterror.KindWebhookError, err)
}
