package db

import (
	_ "embed"
	"fmt"
	"time"

	"civicmap/internal/logger"
	"civicmap/internal/models"

	"github.com/glebarez/sqlite"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed categories.yaml
var categoriesYAML []byte

// Open connects to postgres (production) or sqlite (local dev and tests).
func Open(driver, dsn string, log *logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	if driver == "sqlite" {
		// One connection serializes transactions, sqlite's only safe mode for concurrent writers.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(20)
	}

	log.Entry().WithField("driver", driver).Info("database connection established")
	return conn, nil
}

// Migrate creates or updates the schema and seeds the category list.
func Migrate(conn *gorm.DB, log *logger.Logger) error {
	err := conn.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Issue{},
		&models.Comment{},
		&models.Upvote{},
		&models.ReputationLog{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Entry().Info("database migration completed")

	return seedCategories(conn, log)
}

func seedCategories(conn *gorm.DB, log *logger.Logger) error {
	var count int64
	if err := conn.Model(&models.Category{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if count > 0 {
		log.Entry().Debug("categories already seeded, skipping")
		return nil
	}

	var categories []models.Category
	if err := yaml.Unmarshal(categoriesYAML, &categories); err != nil {
		return fmt.Errorf("parse categories: %w", err)
	}
	if err := conn.Create(&categories).Error; err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	log.Entry().WithField("count", len(categories)).Info("initial categories created")
	return nil
}
