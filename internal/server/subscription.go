package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
)

type provisionSubscriptionRequest struct {
	UserID    string     `json:"user_id"`
	Credits   int64      `json:"credits"`
	Unlimited bool       `json:"unlimited"`
	AutoRenew bool       `json:"auto_renew"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) ProvisionSubscription(c *gin.Context) {
	var req provisionSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	capacity := subscriptiondomain.Bounded(req.Credits)
	if req.Unlimited {
		capacity = subscriptiondomain.UnlimitedCapacity()
	}

	resp, err := s.subscriptionSvc.Provision(c.Request.Context(), subscriptiondomain.ProvisionRequest{
		UserID:    strings.TrimSpace(req.UserID),
		Capacity:  capacity,
		AutoRenew: req.AutoRenew,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type addCreditsRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) AddCredits(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req addCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.AddCredits(c.Request.Context(), userID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type setAutoRenewRequest struct {
	AutoRenew bool `json:"auto_renew"`
}

func (s *Server) SetAutoRenew(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req setAutoRenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.SetAutoRenew(c.Request.Context(), userID, req.AutoRenew)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
