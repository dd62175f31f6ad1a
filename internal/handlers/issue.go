package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"civicmap/internal/feed"
	"civicmap/internal/logger"
	"civicmap/internal/models"
	"civicmap/internal/services"
	"civicmap/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type IssueHandler struct {
	db        *gorm.DB
	publisher feed.Publisher
	cache     *utils.Cache[uint, models.Issue]
	log       *logger.Logger
}

func NewIssueHandler(db *gorm.DB, publisher feed.Publisher, cache *utils.Cache[uint, models.Issue], log *logger.Logger) *IssueHandler {
	return &IssueHandler{db: db, publisher: publisher, cache: cache, log: log}
}

// Invalidate drops the cached detail view of an issue.
func (h *IssueHandler) Invalidate(issueID uint) {
	h.cache.Delete(issueID)
}

type createIssueInput struct {
	Title       string   `json:"title" binding:"required,max=200"`
	Description string   `json:"description" binding:"required,max=5000"`
	Lat         *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng         *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	Address     string   `json:"address" binding:"required,max=300"`
	Category    string   `json:"category" binding:"required,max=50"`
	ImageURL    *string  `json:"imageUrl" binding:"omitempty,url"`
}

type statusInput struct {
	Status models.IssueStatus `json:"status" binding:"required"`
}

type contactInput struct {
	ContactInfo map[string]any `json:"contactInfo" binding:"required"`
}

func (h *IssueHandler) Create(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	var in createIssueInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}

	var category models.Category
	if err := h.db.Where("name = ?", in.Category).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = badRequest("unknown category " + strconv.Quote(in.Category))
		}
		RespondError(c, h.log, err)
		return
	}

	issue := models.Issue{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Location:    models.Location{Lat: *in.Lat, Lng: *in.Lng},
		Address:     strings.TrimSpace(in.Address),
		Category:    category.Name,
		Status:      models.StatusOpen,
		UserID:      user.ID,
		ImageURL:    in.ImageURL,
	}
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User").Create(&issue).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			UpdateColumn("issues_reported", gorm.Expr("issues_reported + 1")).Error
	})
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	h.publish(c, feed.IssueChanged(feed.ActionInsert, &issue))
	c.JSON(http.StatusCreated, issue)
}

// List returns issues, optionally filtered by status, category and a
// bbox=minLng,minLat,maxLng,maxLat viewport.
func (h *IssueHandler) List(c *gin.Context) {
	q := h.db.Model(&models.Issue{})

	if status := c.Query("status"); status != "" {
		if !models.IssueStatus(status).Valid() {
			RespondError(c, h.log, badRequest("unknown status "+strconv.Quote(status)))
			return
		}
		q = q.Where("status = ?", status)
	}
	if category := c.Query("category"); category != "" {
		q = q.Where("category = ?", category)
	}
	if bbox := c.Query("bbox"); bbox != "" {
		box, err := parseBBox(bbox)
		if err != nil {
			RespondError(c, h.log, err)
			return
		}
		q = q.Where("lng BETWEEN ? AND ? AND lat BETWEEN ? AND ?", box[0], box[2], box[1], box[3])
	}

	switch c.DefaultQuery("sort", "newest") {
	case "newest":
		q = q.Order("created_at DESC").Order("id DESC")
	case "upvotes":
		q = q.Order("upvote_count DESC").Order("id DESC")
	default:
		RespondError(c, h.log, badRequest("sort must be newest or upvotes"))
		return
	}

	limit, offset, err := page(c)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	issues := make([]models.Issue, 0)
	if err := q.Limit(limit).Offset(offset).Find(&issues).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

func (h *IssueHandler) Detail(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	if issue, ok := h.cache.Get(id); ok {
		c.JSON(http.StatusOK, issue)
		return
	}

	// A toggle committing between the read and the store bumps the version.
	version := h.cache.Version(id)
	var issue models.Issue
	if err := h.db.WithContext(c.Request.Context()).First(&issue, id).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	issue.DescriptionHTML = string(utils.RenderMarkdown(issue.Description))
	h.cache.SetIfVersion(id, issue, version)
	c.JSON(http.StatusOK, issue)
}

func (h *IssueHandler) UpdateStatus(c *gin.Context) {
	user, issue, ok := h.loadOwned(c)
	if !ok {
		return
	}

	var in statusInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}
	if !in.Status.Valid() {
		RespondError(c, h.log, badRequest("unknown status "+strconv.Quote(string(in.Status))))
		return
	}

	awarded := false
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&issue).Update("status", in.Status).Error; err != nil {
			return err
		}
		if in.Status != models.StatusResolved {
			return nil
		}
		// Only the first resolution is rewarded. Concurrent resolves queue on
		// the row and the loser matches nothing.
		first := tx.Model(&models.Issue{}).
			Where("id = ? AND resolved_at IS NULL", issue.ID).
			UpdateColumn("resolved_at", time.Now())
		if first.Error != nil {
			return first.Error
		}
		if first.RowsAffected == 0 {
			return nil
		}
		awarded = true
		if err := tx.Model(&models.User{}).
			Where("id = ?", issue.UserID).
			UpdateColumn("issues_resolved", gorm.Expr("issues_resolved + 1")).Error; err != nil {
			return err
		}
		return services.AddReputation(tx, issue.UserID, services.PointsIssueResolved, services.ActionIssueResolved)
	})
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	logger.FromContext(c, h.log).WithField("issue_id", issue.ID).
		WithField("status", in.Status).
		WithField("by", user.ID).
		WithField("awarded", awarded).
		Info("issue status changed")
	h.afterUpdate(c, issue.ID)
}

// UpdateContact stores a contact blob produced outside this service.
func (h *IssueHandler) UpdateContact(c *gin.Context) {
	_, issue, ok := h.loadOwned(c)
	if !ok {
		return
	}

	var in contactInput
	if err := bindJSON(c, &in); err != nil {
		RespondError(c, h.log, err)
		return
	}

	// Only this column: the counter belongs to the upvote ledger.
	if err := h.db.Model(&issue).Select("ContactInfo").Updates(models.Issue{ContactInfo: in.ContactInfo}).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	h.afterUpdate(c, issue.ID)
}

func (h *IssueHandler) Delete(c *gin.Context) {
	_, issue, ok := h.loadOwned(c)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		comments := tx.Model(&models.Comment{}).Select("id").Where("issue_id = ?", issue.ID)
		if err := tx.Where("comment_id IN (?)", comments).Delete(&models.Upvote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("issue_id = ?", issue.ID).Delete(&models.Upvote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("issue_id = ?", issue.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&issue).Error
	})
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	h.cache.Delete(issue.ID)
	h.publish(c, feed.IssueChanged(feed.ActionDelete, &models.Issue{ID: issue.ID}))
	c.Status(http.StatusNoContent)
}

func (h *IssueHandler) Categories(c *gin.Context) {
	var categories []models.Category
	if err := h.db.Order("name").Find(&categories).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// loadOwned loads the :id issue and checks the caller may change it.
func (h *IssueHandler) loadOwned(c *gin.Context) (*models.User, models.Issue, bool) {
	var issue models.Issue
	user, err := currentUser(c)
	if err != nil {
		RespondError(c, h.log, err)
		return nil, issue, false
	}
	id, err := paramID(c, "id")
	if err != nil {
		RespondError(c, h.log, err)
		return nil, issue, false
	}
	if err := h.db.First(&issue, id).Error; err != nil {
		RespondError(c, h.log, err)
		return nil, issue, false
	}
	if !canModerate(user, issue.UserID) {
		RespondError(c, h.log, forbidden("only the reporter or an admin can change this issue"))
		return nil, issue, false
	}
	return user, issue, true
}

func (h *IssueHandler) afterUpdate(c *gin.Context, id uint) {
	h.cache.Delete(id)

	var issue models.Issue
	if err := h.db.First(&issue, id).Error; err != nil {
		RespondError(c, h.log, err)
		return
	}
	h.publish(c, feed.IssueChanged(feed.ActionUpdate, &issue))
	c.JSON(http.StatusOK, issue)
}

func (h *IssueHandler) publish(c *gin.Context, ev feed.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(c.Request.Context(), ev); err != nil {
		logger.FromContext(c, h.log).WithError(err).Warn("feed publish failed")
	}
}

func page(c *gin.Context) (limit, offset int, err error) {
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 || limit > maxPageSize {
		return 0, 0, badRequest(fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, badRequest("offset must not be negative")
	}
	return limit, offset, nil
}

func parseBBox(s string) ([4]float64, error) {
	var box [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return box, badRequest("bbox must be minLng,minLat,maxLng,maxLat")
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return box, badRequest("bbox must be minLng,minLat,maxLng,maxLat")
		}
		box[i] = v
	}
	if box[0] > box[2] || box[1] > box[3] {
		return box, badRequest("bbox min must not exceed max")
	}
	return box, nil
}
