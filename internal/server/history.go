package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
	"github.com/smallbiznis/creditflow/pkg/db/pagination"
)

func (s *Server) ListHistory(c *gin.Context) {
	var query struct {
		pagination.Pagination
		UserID string `form:"user_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.trackingSvc.ListHistory(c.Request.Context(), trackingdomain.ListHistoryRequest{
		UserID:    strings.TrimSpace(query.UserID),
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetLimitWindow(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	category := limitdomain.Category(strings.TrimSpace(c.Param("category")))
	if userID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	window, err := s.limitSvc.CurrentWindow(c.Request.Context(), userID, category)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": window})
}

func (s *Server) ListOwnerships(c *gin.Context) {
	var query struct {
		UserID       string `form:"user_id"`
		ResourceType string `form:"resource_type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	records, err := s.ownershipSvc.ListOwned(c.Request.Context(), strings.TrimSpace(query.UserID), strings.TrimSpace(query.ResourceType))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
