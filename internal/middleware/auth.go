package middleware

import (
	"errors"
	"net/http"

	"civicmap/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	CurrentUserKey = "user"
	SessionUserKey = "user_id"
)

// AuthRequired rejects requests without a logged-in user. LoadUser must run first.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "login required",
			})
			return
		}
		c.Next()
	}
}

// LoadUser retrieves the session's user and puts it in the context.
// A session pointing at a deleted user is cleared.
func LoadUser(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get(SessionUserKey)

		if userID != nil {
			var user models.User
			err := conn.WithContext(c.Request.Context()).First(&user, userID).Error
			switch {
			case err == nil:
				c.Set(CurrentUserKey, &user)
			case errors.Is(err, gorm.ErrRecordNotFound):
				session.Delete(SessionUserKey)
				_ = session.Save()
			}
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(CurrentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}
