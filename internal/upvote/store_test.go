package upvote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"civicmap/internal/db/dbtest"
	"civicmap/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormStoreToggleInvertsMembership(t *testing.T) {
	conn := dbtest.Open(t)
	author := dbtest.User(t, conn, "author")
	actor := dbtest.User(t, conn, "alice")
	issue := dbtest.Issue(t, conn, author)
	store := NewGormStore(conn)
	ctx := context.Background()

	res, err := store.Toggle(ctx, models.IssueTarget(issue.ID), actor.ID)
	require.NoError(t, err)
	assert.True(t, res.IsUpvoted)
	assert.Equal(t, 1, res.CurrentCount)
	require.NotNil(t, res.Issue)
	assert.Equal(t, 1, res.Issue.UpvoteCount)

	ok, err := store.HasUpvoted(ctx, models.IssueTarget(issue.ID), actor.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err = store.Toggle(ctx, models.IssueTarget(issue.ID), actor.ID)
	require.NoError(t, err)
	assert.False(t, res.IsUpvoted)
	assert.Equal(t, 0, res.CurrentCount)
	assert.False(t, res.Drifted)

	ok, err = store.HasUpvoted(ctx, models.IssueTarget(issue.ID), actor.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStoreTwoActors(t *testing.T) {
	conn := dbtest.Open(t)
	author := dbtest.User(t, conn, "author")
	a := dbtest.User(t, conn, "alice")
	b := dbtest.User(t, conn, "bob")
	issue := dbtest.Issue(t, conn, author)
	store := NewGormStore(conn)
	ctx := context.Background()
	target := models.IssueTarget(issue.ID)

	_, err := store.Toggle(ctx, target, a.ID)
	require.NoError(t, err)
	res, err := store.Toggle(ctx, target, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CurrentCount)

	for _, actor := range []models.User{a, b} {
		ok, err := store.HasUpvoted(ctx, target, actor.ID)
		require.NoError(t, err)
		assert.True(t, ok, actor.DisplayName)
	}

	res, err = store.Toggle(ctx, target, a.ID)
	require.NoError(t, err)
	assert.False(t, res.IsUpvoted)
	assert.Equal(t, 1, res.CurrentCount)
}

func TestGormStoreCommentMembershipIsIndependent(t *testing.T) {
	conn := dbtest.Open(t)
	author := dbtest.User(t, conn, "author")
	actor := dbtest.User(t, conn, "alice")
	issue := dbtest.Issue(t, conn, author)
	comment := dbtest.Comment(t, conn, issue, author)
	store := NewGormStore(conn)
	ctx := context.Background()

	res, err := store.Toggle(ctx, models.CommentTarget(comment.ID), actor.ID)
	require.NoError(t, err)
	assert.True(t, res.IsUpvoted)
	assert.Equal(t, 1, res.CurrentCount)
	require.NotNil(t, res.Comment)
	assert.Nil(t, res.Issue)

	// The comment upvote says nothing about the issue.
	ok, err := store.HasUpvoted(ctx, models.IssueTarget(issue.ID), actor.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	var reloaded models.Issue
	require.NoError(t, conn.First(&reloaded, issue.ID).Error)
	assert.Equal(t, 0, reloaded.UpvoteCount)
}

func TestGormStoreReputation(t *testing.T) {
	conn := dbtest.Open(t)
	author := dbtest.User(t, conn, "author")
	actor := dbtest.User(t, conn, "alice")
	issue := dbtest.Issue(t, conn, author)
	store := NewGormStore(conn)
	ctx := context.Background()
	target := models.IssueTarget(issue.ID)

	reputation := func(id uint) int {
		var u models.User
		require.NoError(t, conn.First(&u, id).Error)
		return u.Reputation
	}

	_, err := store.Toggle(ctx, target, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reputation(author.ID))

	_, err = store.Toggle(ctx, target, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reputation(author.ID))

	// Upvoting your own issue counts but earns nothing.
	res, err := store.Toggle(ctx, target, author.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentCount)
	assert.Equal(t, 0, reputation(author.ID))

	var logs int64
	require.NoError(t, conn.Model(&models.ReputationLog{}).Where("user_id = ?", author.ID).Count(&logs).Error)
	assert.Equal(t, int64(2), logs)
}

func TestGormStoreNotFound(t *testing.T) {
	conn := dbtest.Open(t)
	actor := dbtest.User(t, conn, "alice")
	store := NewGormStore(conn)

	_, err := store.Toggle(context.Background(), models.IssueTarget(999), actor.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Toggle(context.Background(), models.CommentTarget(999), actor.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var memberships int64
	require.NoError(t, conn.Model(&models.Upvote{}).Count(&memberships).Error)
	assert.Zero(t, memberships)
}

func TestGormStoreConcurrentDistinctActors(t *testing.T) {
	conn := dbtest.Open(t)
	author := dbtest.User(t, conn, "author")
	issue := dbtest.Issue(t, conn, author)
	store := NewGormStore(conn)
	target := models.IssueTarget(issue.ID)

	const actors = 12
	users := make([]models.User, actors)
	for i := range users {
		users[i] = dbtest.User(t, conn, fmt.Sprintf("actor%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, actors)
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Toggle(context.Background(), target, u.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assertCounterMatchesMemberships(t, conn, target, actors)
}

func TestGormStoreConcurrentSamePairSerializes(t *testing.T) {
	conn := dbtest.Open(t)
	author := dbtest.User(t, conn, "author")
	actor := dbtest.User(t, conn, "alice")
	issue := dbtest.Issue(t, conn, author)
	store := NewGormStore(conn)
	target := models.IssueTarget(issue.ID)

	results := make([]Result, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Toggle(context.Background(), target, actor.ID)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	// One call saw the empty state, the other saw the first one's membership.
	upvoted := 0
	for _, r := range results {
		if r.IsUpvoted {
			upvoted++
			assert.Equal(t, 1, r.CurrentCount)
		} else {
			assert.Equal(t, 0, r.CurrentCount)
		}
	}
	assert.Equal(t, 1, upvoted)
	assertCounterMatchesMemberships(t, conn, target, 0)
}

func TestGormStoreDriftClampsAtZero(t *testing.T) {
	conn := dbtest.Open(t)
	author := dbtest.User(t, conn, "author")
	actor := dbtest.User(t, conn, "alice")
	issue := dbtest.Issue(t, conn, author)
	store := NewGormStore(conn)
	target := models.IssueTarget(issue.ID)

	_, err := store.Toggle(context.Background(), target, actor.ID)
	require.NoError(t, err)
	require.NoError(t, conn.Model(&models.Issue{}).Where("id = ?", issue.ID).UpdateColumn("upvote_count", 0).Error)

	res, err := store.Toggle(context.Background(), target, actor.ID)
	require.NoError(t, err)
	assert.False(t, res.IsUpvoted)
	assert.Equal(t, 0, res.CurrentCount)
	assert.True(t, res.Drifted)
}

func TestGormStoreUnavailable(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "issues"`).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err = NewGormStore(conn).Toggle(context.Background(), models.IssueTarget(1), 7)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(`SELECT count\(\*\) FROM "upvotes"`).WillReturnError(errors.New("connection refused"))
	_, err = NewGormStore(conn).HasUpvoted(context.Background(), models.IssueTarget(1), 7)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func assertCounterMatchesMemberships(t *testing.T, conn *gorm.DB, target models.Target, want int) {
	t.Helper()

	var memberships int64
	require.NoError(t, conn.Model(&models.Upvote{}).Where(target.Column()+" = ?", target.ID).Count(&memberships).Error)

	var issue models.Issue
	require.NoError(t, conn.First(&issue, target.ID).Error)

	assert.Equal(t, int64(want), memberships)
	assert.Equal(t, want, issue.UpvoteCount)
}
