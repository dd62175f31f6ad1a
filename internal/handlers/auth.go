package handlers

import (
	"errors"
	"net/http"
	"strings"

	"civicmap/internal/logger"
	"civicmap/internal/middleware"
	"civicmap/internal/models"
	"civicmap/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AuthHandler struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuthHandler(db *gorm.DB, log *logger.Logger) *AuthHandler {
	return &AuthHandler{db: db, log: log}
}

type registerInput struct {
	Email       string `json:"email" binding:"required,email,max=255"`
	Password    string `json:"password" binding:"required,min=6,max=72"`
	DisplayName string `json:"displayName" binding:"max=100"`
}

type loginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type meResponse struct {
	*models.User
	Level     string `json:"level"`
	LevelIcon string `json:"levelIcon"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var in registerInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	var existing int64
	if err := h.db.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	if existing > 0 {
		RespondError(c, h.log, conflict("email already registered"))
		return
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = strings.Split(email, "@")[0]
	}
	user := models.User{
		Email:       email,
		DisplayName: displayName,
		Password:    hash,
		AvatarURL:   utils.RandomAvatar(),
	}
	if err := h.db.Create(&user).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}

	if err := h.startSession(c, user.ID); err != nil {
		RespondError(c, h.log, err)
		return
	}
	logger.FromContext(c, h.log).WithField("user_id", user.ID).Info("user registered")
	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var in loginInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}

	var user models.User
	err := h.db.Where("email = ?", strings.ToLower(strings.TrimSpace(in.Email))).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		RespondError(c, h.log, err)
		return
	}
	if err != nil || !utils.CheckPasswordHash(in.Password, user.Password) {
		RespondError(c, h.log, &DomainError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "wrong email or password"})
		return
	}

	if err := h.startSession(c, user.ID); err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	level, icon := utils.ReputationLevel(user.Reputation)
	c.JSON(http.StatusOK, meResponse{User: user, Level: level, LevelIcon: icon})
}

func (h *AuthHandler) startSession(c *gin.Context, userID uint) error {
	session := sessions.Default(c)
	session.Set(middleware.SessionUserKey, userID)
	return session.Save()
}
