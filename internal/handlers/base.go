package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"civicmap/internal/logger"
	"civicmap/internal/middleware"
	"civicmap/internal/models"
	"civicmap/internal/upvote"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DomainError is the JSON body of every failed API call.
type DomainError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Code + ": " + e.Message
}

func badRequest(msg string) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: "invalid_input", Message: msg}
}

func forbidden(msg string) *DomainError {
	return &DomainError{Status: http.StatusForbidden, Code: "forbidden", Message: msg}
}

func notFound(msg string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: "not_found", Message: msg}
}

func conflict(msg string) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: "conflict", Message: msg}
}

var errUnauthorized = &DomainError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "login required"}

// toDomainError maps service and store errors onto API errors.
func toDomainError(err error) *DomainError {
	var de *DomainError
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, upvote.ErrInvalidInput):
		return badRequest(err.Error())
	case errors.Is(err, upvote.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return notFound("not found")
	case errors.Is(err, upvote.ErrUnavailable):
		return &DomainError{Status: http.StatusServiceUnavailable, Code: "unavailable", Message: "service temporarily unavailable"}
	default:
		return &DomainError{Status: http.StatusInternalServerError, Code: "internal", Message: "internal error"}
	}
}

// RespondError writes err as a DomainError and logs server-side failures.
func RespondError(c *gin.Context, log *logger.Logger, err error) {
	de := toDomainError(err)
	if de.Status >= http.StatusInternalServerError {
		logger.FromContext(c, log).WithError(err).Error("request failed")
	}
	c.AbortWithStatusJSON(de.Status, de)
}

func bindJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

func paramID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid " + name)
	}
	return uint(id), nil
}

func currentUser(c *gin.Context) (*models.User, error) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil, errUnauthorized
	}
	return user, nil
}

func canModerate(user *models.User, ownerID uint) bool {
	return user.IsAdmin || user.ID == ownerID
}
