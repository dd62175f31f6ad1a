package handlers

import (
	"net/http"

	"civicmap/internal/logger"
	"civicmap/internal/models"
	"civicmap/internal/upvote"

	"github.com/gin-gonic/gin"
)

type UpvoteHandler struct {
	svc *upvote.Service
	log *logger.Logger
}

func NewUpvoteHandler(svc *upvote.Service, log *logger.Logger) *UpvoteHandler {
	return &UpvoteHandler{svc: svc, log: log}
}

type checkBatchInput struct {
	Targets []models.Target `json:"targets" binding:"required,min=1,dive"`
}

type checkResult struct {
	Kind    models.TargetKind `json:"kind"`
	ID      uint              `json:"id"`
	Upvoted bool              `json:"upvoted"`
}

// Toggle flips the caller's upvote. Each call flips; it is not idempotent.
func (h *UpvoteHandler) Toggle(c *gin.Context) {
	user, target, ok := h.request(c)
	if !ok {
		return
	}
	res, err := h.svc.Toggle(c.Request.Context(), target, user.ID)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *UpvoteHandler) Check(c *gin.Context) {
	user, target, ok := h.request(c)
	if !ok {
		return
	}
	upvoted, err := h.svc.HasUpvoted(c.Request.Context(), target, user.ID)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upvoted": upvoted})
}

// CheckBatch answers in request order.
func (h *UpvoteHandler) CheckBatch(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	var in checkBatchInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}

	answers, err := h.svc.HasUpvotedMany(c.Request.Context(), in.Targets, user.ID)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	results := make([]checkResult, len(in.Targets))
	for i, t := range in.Targets {
		results[i] = checkResult{Kind: t.Kind, ID: t.ID, Upvoted: answers[t]}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *UpvoteHandler) request(c *gin.Context) (*models.User, models.Target, bool) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return nil, models.Target{}, false
	}
	id, err := paramID(c, "id")
	if err != nil {
		RespondError(c, h.log, err)
		return nil, models.Target{}, false
	}
	return user, models.Target{Kind: models.TargetKind(c.Param("kind")), ID: id}, true
}
