package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	obscontext "github.com/smallbiznis/paycore/internal/observability/context"
)

// APIActor tags the request context so audit rows written while serving it
// name the API caller.
func APIActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAPI), c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return snowflake.ID(id), true
}
