package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	"go.uber.org/zap"
)

const HeaderOrg = "X-Org-ID"

// OrgContext resolves the tenant for the request, from the org header when
// present, otherwise the configured default org.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := s.cfg.DefaultOrgID
		if raw := strings.TrimSpace(c.GetHeader(HeaderOrg)); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				AbortWithError(c, newValidationError("org_id", "invalid_organization", "invalid value"))
				return
			}
			orgID = parsed
		}
		if orgID <= 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_organization", "invalid value"))
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ConsumeThrottle applies the redis token bucket to consume routes. The
// throttle is a traffic valve; the pipeline's own checks stay authoritative.
func (s *Server) ConsumeThrottle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.throttle.Enabled() {
			c.Next()
			return
		}

		userID := consumeUserID(c)
		orgID := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if orgID == "" {
			orgID = strconv.FormatInt(s.cfg.DefaultOrgID, 10)
		}

		result, err := s.throttle.Allow(c.Request.Context(), orgID, userID)
		if err != nil {
			// A broken throttle must not block consumption.
			s.log.Warn("consume throttle unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter/time.Second)+1))
			}
			AbortWithError(c, ErrThrottled)
			return
		}
		c.Next()
	}
}

// consumeUserID peeks the user id for throttle keying without consuming the
// request body.
func consumeUserID(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("user_id")); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader("X-User-ID"))
}
