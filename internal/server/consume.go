package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	consumptiondomain "github.com/smallbiznis/creditflow/internal/consumption/domain"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
)

type purchasePluginRequest struct {
	UserID     string `json:"user_id"`
	PluginName string `json:"plugin_name"`
}

func (s *Server) PurchasePlugin(c *gin.Context) {
	var req purchasePluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.consumptionSvc.PurchasePlugin(c.Request.Context(), consumptiondomain.PurchasePluginRequest{
		UserID:     strings.TrimSpace(req.UserID),
		PluginID:   strings.TrimSpace(c.Param("plugin_id")),
		PluginName: strings.TrimSpace(req.PluginName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type usePluginRequest struct {
	UserID     string `json:"user_id"`
	PluginName string `json:"plugin_name"`
	Messages   int64  `json:"messages,omitempty"`
}

func (s *Server) UsePlugin(c *gin.Context) {
	var req usePluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.consumptionSvc.UsePlugin(c.Request.Context(), consumptiondomain.UsePluginRequest{
		UserID:     strings.TrimSpace(req.UserID),
		PluginID:   strings.TrimSpace(c.Param("plugin_id")),
		PluginName: strings.TrimSpace(req.PluginName),
		Messages:   req.Messages,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type runWorkflowRequest struct {
	UserID       string `json:"user_id"`
	WorkflowName string `json:"workflow_name"`
}

func (s *Server) RunWorkflow(c *gin.Context) {
	var req runWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.consumptionSvc.RunWorkflow(c.Request.Context(), consumptiondomain.RunWorkflowRequest{
		UserID:       strings.TrimSpace(req.UserID),
		WorkflowID:   strings.TrimSpace(c.Param("workflow_id")),
		WorkflowName: strings.TrimSpace(req.WorkflowName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type consumeActionRequest struct {
	UserID       string `json:"user_id"`
	ActionType   string `json:"action_type"`
	ItemID       string `json:"item_id,omitempty"`
	ResourceType string `json:"resource_type"`
	ResourceName string `json:"resource_name"`
	Quantity     int64  `json:"quantity,omitempty"`
	Category     string `json:"category"`
}

func (s *Server) ConsumeAction(c *gin.Context) {
	var req consumeActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.consumptionSvc.ConsumeAction(c.Request.Context(), consumptiondomain.ConsumeActionRequest{
		UserID:       strings.TrimSpace(req.UserID),
		ActionType:   strings.TrimSpace(req.ActionType),
		ItemID:       strings.TrimSpace(req.ItemID),
		ResourceType: strings.TrimSpace(req.ResourceType),
		ResourceName: strings.TrimSpace(req.ResourceName),
		Quantity:     req.Quantity,
		Category:     limitdomain.Category(strings.TrimSpace(req.Category)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
