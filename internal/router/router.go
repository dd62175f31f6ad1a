package router

import (
	"net/http"
	"time"

	"civicmap/internal/feed"
	"civicmap/internal/handlers"
	"civicmap/internal/logger"
	"civicmap/internal/metrics"
	"civicmap/internal/middleware"
	"civicmap/internal/models"
	"civicmap/internal/upvote"
	"civicmap/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const sessionName = "civicmap_session"

type Deps struct {
	DB            *gorm.DB
	Upvotes       *upvote.Service
	Feed          feed.Broadcaster
	IssueCache    *utils.Cache[uint, models.Issue]
	Metrics       *metrics.Metrics
	Log           *logger.Logger
	SessionSecret string
	FeedKeepAlive time.Duration
}

// New builds the engine with every API route registered.
func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(d.Log))
	r.Use(d.Metrics.Middleware())

	store := cookie.NewStore([]byte(d.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(middleware.LoadUser(d.DB))

	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	authHandler := handlers.NewAuthHandler(d.DB, d.Log)
	userHandler := handlers.NewUserHandler(d.DB, d.Log)
	issueHandler := handlers.NewIssueHandler(d.DB, d.Feed, d.IssueCache, d.Log)
	commentHandler := handlers.NewCommentHandler(d.DB, d.Feed, d.Log)
	upvoteHandler := handlers.NewUpvoteHandler(d.Upvotes, d.Log)
	feedHandler := handlers.NewFeedHandler(d.Feed, d.FeedKeepAlive, d.Log)

	// A toggle changes the issue's counter, so its cached detail is stale.
	d.Upvotes.OnChange(func(target models.Target) {
		if target.Kind == models.KindIssue {
			issueHandler.Invalidate(target.ID)
		}
	})

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", d.Metrics.Handler())

	api := r.Group("/api")

	// Public routes
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/logout", authHandler.Logout)
	api.GET("/categories", issueHandler.Categories)
	api.GET("/issues", issueHandler.List)
	api.GET("/issues/:id", issueHandler.Detail)
	api.GET("/issues/:id/comments", commentHandler.List)
	api.GET("/users/:id", userHandler.Profile)
	api.GET("/feed", feedHandler.Stream)

	// Protected routes
	authorized := api.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/me", authHandler.Me)
		authorized.PATCH("/me", userHandler.UpdateProfile)
		authorized.GET("/me/reputation", userHandler.ReputationLogs)

		authorized.POST("/issues", issueHandler.Create)
		authorized.PATCH("/issues/:id/status", issueHandler.UpdateStatus)
		authorized.PUT("/issues/:id/contact", issueHandler.UpdateContact)
		authorized.DELETE("/issues/:id", issueHandler.Delete)

		authorized.POST("/issues/:id/comments", commentHandler.Create)
		authorized.DELETE("/comments/:id", commentHandler.Delete)

		authorized.POST("/upvotes/:kind/:id/toggle", upvoteHandler.Toggle)
		authorized.GET("/upvotes/:kind/:id", upvoteHandler.Check)
		authorized.POST("/upvotes/check", upvoteHandler.CheckBatch)
	}
}
