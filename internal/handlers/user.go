package handlers

import (
	"net/http"
	"strings"
	"time"

	"civicmap/internal/logger"
	"civicmap/internal/models"
	"civicmap/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const profileListLimit = 50

type UserHandler struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserHandler(db *gorm.DB, log *logger.Logger) *UserHandler {
	return &UserHandler{db: db, log: log}
}

// publicProfile leaves out email and admin flag.
type publicProfile struct {
	ID             uint      `json:"id"`
	DisplayName    string    `json:"displayName"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	City           string    `json:"city,omitempty"`
	Reputation     int       `json:"reputation"`
	Level          string    `json:"level"`
	LevelIcon      string    `json:"levelIcon"`
	IssuesReported int       `json:"issuesReported"`
	IssuesResolved int       `json:"issuesResolved"`
	DaysSince      int       `json:"daysSinceJoined"`
	CreatedAt      time.Time `json:"createdAt"`

	Issues   []models.Issue   `json:"issues,omitempty"`
	Comments []models.Comment `json:"comments,omitempty"`
}

type profileInput struct {
	DisplayName *string `json:"displayName" binding:"omitempty,min=1,max=100"`
	AvatarURL   *string `json:"avatarUrl" binding:"omitempty,max=500"`
	Bio         *string `json:"bio" binding:"omitempty,max=200"`
	City        *string `json:"city" binding:"omitempty,max=100"`
}

// Profile - GET /api/users/:id?tab=issues|comments
func (h *UserHandler) Profile(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	var user models.User
	if err := h.db.First(&user, id).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}

	level, icon := utils.ReputationLevel(user.Reputation)
	out := publicProfile{
		ID:             user.ID,
		DisplayName:    user.DisplayName,
		AvatarURL:      user.AvatarURL,
		Bio:            user.Bio,
		City:           user.City,
		Reputation:     user.Reputation,
		Level:          level,
		LevelIcon:      icon,
		IssuesReported: user.IssuesReported,
		IssuesResolved: user.IssuesResolved,
		DaysSince:      utils.DaysSinceJoined(user.CreatedAt, time.Now()),
		CreatedAt:      user.CreatedAt,
	}

	switch tab := c.DefaultQuery("tab", "issues"); tab {
	case "issues":
		out.Issues = []models.Issue{}
		err = h.db.Where("user_id = ?", user.ID).
			Order("created_at DESC").
			Limit(profileListLimit).
			Find(&out.Issues).Error
	case "comments":
		out.Comments = []models.Comment{}
		err = h.db.Preload("User").
			Where("user_id = ?", user.ID).
			Order("created_at DESC").
			Limit(profileListLimit).
			Find(&out.Comments).Error
		for i := range out.Comments {
			withAuthor(&out.Comments[i])
		}
	default:
		err = badRequest("tab must be issues or comments")
	}
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

// UpdateProfile - PATCH /api/me. Only the fields present in the body change.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	var in profileInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}

	updates := map[string]any{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			RespondError(c, h.log, badRequest("displayName must not be blank"))
			return
		}
		updates["display_name"] = name
	}
	if in.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*in.AvatarURL)
	}
	if in.Bio != nil {
		updates["bio"] = utils.StripHTML(*in.Bio)
	}
	if in.City != nil {
		updates["city"] = strings.TrimSpace(*in.City)
	}

	if len(updates) > 0 {
		if err := h.db.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			RespondError(c, h.log, err)
			return
		}
	}

	var fresh models.User
	if err := h.db.First(&fresh, user.ID).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	level, icon := utils.ReputationLevel(fresh.Reputation)
	c.JSON(http.StatusOK, meResponse{User: &fresh, Level: level, LevelIcon: icon})
}

// ReputationLogs - GET /api/me/reputation, newest first.
func (h *UserHandler) ReputationLogs(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	logs := []models.ReputationLog{}
	if err := h.db.Where("user_id = ?", user.ID).
		Order("created_at DESC, id DESC").
		Limit(100).
		Find(&logs).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reputation": user.Reputation, "logs": logs})
}
