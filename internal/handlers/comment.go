package handlers

import (
	"net/http"
	"strings"

	"civicmap/internal/feed"
	"civicmap/internal/logger"
	"civicmap/internal/models"
	"civicmap/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CommentHandler struct {
	db        *gorm.DB
	publisher feed.Publisher
	log       *logger.Logger
}

func NewCommentHandler(db *gorm.DB, publisher feed.Publisher, log *logger.Logger) *CommentHandler {
	return &CommentHandler{db: db, publisher: publisher, log: log}
}

type commentInput struct {
	Content string `json:"content" binding:"required,max=2000"`
}

func (h *CommentHandler) List(c *gin.Context) {
	issueID, err := paramID(c, "id")
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	if err := h.db.Select("id").First(&models.Issue{}, issueID).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}

	var comments []models.Comment
	if err := h.db.Preload("User").
		Where("issue_id = ?", issueID).
		Order("created_at ASC").Order("id ASC").
		Find(&comments).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	for i := range comments {
		withAuthor(&comments[i])
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *CommentHandler) Create(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	issueID, err := paramID(c, "id")
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	var in commentInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}
	content := strings.TrimSpace(utils.StripHTML(in.Content))
	if content == "" {
		RespondError(c, h.log, badRequest("comment is empty"))
		return
	}

	if err := h.db.Select("id").First(&models.Issue{}, issueID).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}

	comment := models.Comment{
		IssueID: issueID,
		UserID:  user.ID,
		Content: content,
		User:    *user,
	}
	if err := h.db.Omit("User", "Issue").Create(&comment).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	withAuthor(&comment)

	if h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), feed.CommentChanged(feed.ActionInsert, &comment)); err != nil {
			logger.FromContext(c, h.log).WithError(err).Warn("feed publish failed")
		}
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *CommentHandler) Delete(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	id, err := paramID(c, "id")
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	var comment models.Comment
	if err := h.db.First(&comment, id).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	if !canModerate(user, comment.UserID) {
		RespondError(c, h.log, forbidden("only the author or an admin can delete this comment"))
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("comment_id = ?", comment.ID).Delete(&models.Upvote{}).Error; err != nil {
			return err
		}
		return tx.Delete(&comment).Error
	})
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	if h.publisher != nil {
		ev := feed.CommentChanged(feed.ActionDelete, &models.Comment{ID: comment.ID, IssueID: comment.IssueID})
		if err := h.publisher.Publish(c.Request.Context(), ev); err != nil {
			logger.FromContext(c, h.log).WithError(err).Warn("feed publish failed")
		}
	}
	c.Status(http.StatusNoContent)
}

func withAuthor(comment *models.Comment) {
	comment.Author = &models.Author{
		DisplayName: comment.User.DisplayName,
		AvatarURL:   comment.User.AvatarURL,
	}
}
