// Package dbtest opens throwaway sqlite databases with the full schema for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"civicmap/internal/db"
	"civicmap/internal/logger"
	"civicmap/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Open returns a migrated sqlite database living in the test's temp dir.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "civicmap.db") + "?_pragma=foreign_keys(1)"
	conn, err := db.Open("sqlite", dsn, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn, logger.Nop()))

	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func User(t testing.TB, conn *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{
		Email:       fmt.Sprintf("%s@example.com", name),
		DisplayName: name,
		Password:    "x",
	}
	require.NoError(t, conn.Create(&u).Error)
	return u
}

func Issue(t testing.TB, conn *gorm.DB, author models.User) models.Issue {
	t.Helper()
	issue := models.Issue{
		Title:       "Broken streetlight",
		Description: "The light on the corner has been out for a week.",
		Location:    models.Location{Lat: 40.7128, Lng: -74.006},
		Address:     "1 Main St",
		Category:    "Streetlight",
		Status:      models.StatusOpen,
		UserID:      author.ID,
	}
	require.NoError(t, conn.Create(&issue).Error)
	return issue
}

func Comment(t testing.TB, conn *gorm.DB, issue models.Issue, author models.User) models.Comment {
	t.Helper()
	comment := models.Comment{
		IssueID: issue.ID,
		UserID:  author.ID,
		Content: "Same here, it is pitch black at night.",
	}
	require.NoError(t, conn.Create(&comment).Error)
	return comment
}
