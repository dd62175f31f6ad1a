package upvoteclient_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"civicmap/internal/db/dbtest"
	"civicmap/internal/feed"
	"civicmap/internal/logger"
	"civicmap/internal/metrics"
	"civicmap/internal/models"
	"civicmap/internal/router"
	"civicmap/internal/upvote"
	"civicmap/internal/utils"
	"civicmap/pkg/upvoteclient"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := dbtest.Open(t)
	log := logger.Nop()
	m := metrics.New("test")
	hub := feed.NewHub()
	cache, err := utils.NewCache[uint, models.Issue](10, time.Minute)
	require.NoError(t, err)

	engine := router.New(router.Deps{
		DB:            conn,
		Upvotes:       upvote.NewService(upvote.NewGormStore(conn), hub, nil, m, log),
		Feed:          hub,
		IssueCache:    cache,
		Metrics:       m,
		Log:           log,
		SessionSecret: "test-secret",
		FeedKeepAlive: time.Second,
	})
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Close()
	})
	return srv.URL
}

// signup registers name and returns a logged-in http client.
func signup(t *testing.T, base, name string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	hc := &http.Client{Jar: jar, Timeout: 5 * time.Second}

	resp := post(t, hc, base+"/api/auth/register", map[string]string{
		"email":       name + "@example.com",
		"password":    "hunter22",
		"displayName": name,
	}, nil)
	require.Equal(t, http.StatusCreated, resp)
	return hc
}

func post(t *testing.T, hc *http.Client, url string, body, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := hc.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestReconcilerAgainstServer(t *testing.T) {
	base := startServer(t)
	aliceHTTP := signup(t, base, "alice")
	bob := upvoteclient.New(base, signup(t, base, "bob"))

	var issue models.Issue
	status := post(t, aliceHTTP, base+"/api/issues", map[string]any{
		"title":       "Pothole on Elm St",
		"description": "Deep enough to pop a tire.",
		"lat":         40.7,
		"lng":         -74.0,
		"address":     "12 Elm St",
		"category":    "Pothole",
	}, &issue)
	require.Equal(t, http.StatusCreated, status)
	target := upvoteclient.Issue(issue.ID)

	alice := upvoteclient.New(base, aliceHTTP)
	r := upvoteclient.NewReconciler(alice, upvoteclient.WithGrace(100*time.Millisecond))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	followed := make(chan error, 1)
	go func() { followed <- r.Follow(ctx, alice) }()
	defer func() {
		cancel()
		<-followed
	}()

	// Comments show up in the reconciler once the feed subscription is live.
	var probes []uint
	require.Eventually(t, func() bool {
		var c models.Comment
		post(t, aliceHTTP, fmt.Sprintf("%s/api/issues/%d/comments", base, issue.ID), map[string]string{"content": "probe"}, &c)
		probes = append(probes, c.ID)
		for _, id := range probes {
			if _, ok := r.State(upvoteclient.Comment(id)); ok {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	upvoted, err := alice.HasUpvoted(ctx, target)
	require.NoError(t, err)
	r.Load(target, upvoted, issue.UpvoteCount)

	require.NoError(t, r.Toggle(ctx, target))
	s, _ := r.State(target)
	assert.True(t, s.Upvoted)
	assert.Equal(t, 1, s.Count)

	require.Eventually(t, func() bool {
		s, _ := r.State(target)
		return s.Phase == upvoteclient.Idle
	}, 3*time.Second, 10*time.Millisecond)

	res, err := bob.Toggle(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, upvoteclient.ToggleResult{IsUpvoted: true, CurrentCount: 2}, res)

	assert.Eventually(t, func() bool {
		s, _ := r.State(target)
		return s.Count == 2 && s.Upvoted
	}, 3*time.Second, 10*time.Millisecond, "bob's upvote reaches alice through the feed")

	checked, err := bob.CheckBatch(ctx, []upvoteclient.Target{target, upvoteclient.Comment(probes[0])})
	require.NoError(t, err)
	assert.True(t, checked[target])
	assert.False(t, checked[upvoteclient.Comment(probes[0])])
}
