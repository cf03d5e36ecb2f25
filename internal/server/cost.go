package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
)

func (s *Server) ListCosts(c *gin.Context) {
	actionType := strings.TrimSpace(c.Query("action_type"))

	costs, err := s.costSvc.List(c.Request.Context(), actionType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": costs})
}

func (s *Server) SetCost(c *gin.Context) {
	var req costdomain.SetCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cost, err := s.costSvc.SetCost(c.Request.Context(), costdomain.SetCostRequest{
		ActionType:  strings.TrimSpace(req.ActionType),
		ItemID:      strings.TrimSpace(req.ItemID),
		Credits:     req.Credits,
		PaymentUnit: strings.TrimSpace(req.PaymentUnit),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cost})
}
