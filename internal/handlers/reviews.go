package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-plugin/internal/models"
	"chat-plugin/internal/services"
)

type Reviews interface {
	Flag(ctx context.Context, user models.User, req services.FlagRequest) (models.Reviewable, error)
	Perform(ctx context.Context, moderator models.User, reviewableID int, action services.ReviewAction) (models.Reviewable, error)
}

// ReviewHandler serves flagging and the moderator review queue.
type ReviewHandler struct {
	reviews Reviews
	logger  *slog.Logger
}

func NewReviewHandler(reviews Reviews, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{reviews: reviews, logger: logger}
}

func (h *ReviewHandler) Register(r gin.IRouter) {
	r.POST("/flag", h.Flag)
	r.POST("/reviewables/:reviewable_id/perform", h.Perform)
}

func (h *ReviewHandler) Flag(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req services.FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rv, err := h.reviews.Flag(c.Request.Context(), user, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewable": rv})
}

func (h *ReviewHandler) Perform(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	reviewableID, ok := intParam(c, "reviewable_id")
	if !ok {
		return
	}
	var req struct {
		Action services.ReviewAction `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rv, err := h.reviews.Perform(c.Request.Context(), user, reviewableID, req.Action)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewable": rv})
}
