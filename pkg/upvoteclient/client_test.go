package upvoteclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientToggle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upvotes/issue/12/toggle", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"isUpvoted": true, "currentCount": 3})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(srv.URL+"/", nil).Toggle(context.Background(), Issue(12))
	require.NoError(t, err)
	assert.Equal(t, ToggleResult{IsUpvoted: true, CurrentCount: 3}, res)
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusBadRequest, "invalid_input", ErrInvalidInput},
		{http.StatusUnauthorized, "unauthorized", ErrUnauthorized},
		{http.StatusForbidden, "forbidden", ErrUnauthorized},
		{http.StatusNotFound, "not_found", ErrNotFound},
		{http.StatusServiceUnavailable, "unavailable", ErrUnavailable},
		{http.StatusInternalServerError, "internal", ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"code": tt.code, "message": "nope"})
			}))
			defer srv.Close()

			_, err := New(srv.URL, nil).Toggle(context.Background(), Comment(1))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).HasUpvoted(context.Background(), Issue(1))
	assert.ErrorIs(t, err, ErrUnavailable)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).Toggle(context.Background(), Issue(1))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientCheckMany(t *testing.T) {
	var inFlight, peak atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/upvotes/{kind}/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		upvoted := r.PathValue("kind") == KindIssue && r.PathValue("id") != "2"
		writeJSON(w, http.StatusOK, map[string]bool{"upvoted": upvoted})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	c.CheckConcurrency = 2

	var targets []Target
	for i := uint(1); i <= 5; i++ {
		targets = append(targets, Issue(i))
	}
	targets = append(targets, Comment(1))

	got, err := c.CheckMany(context.Background(), targets)
	require.NoError(t, err)
	assert.Equal(t, map[Target]bool{
		Issue(1):   true,
		Issue(2):   false,
		Issue(3):   true,
		Issue(4):   true,
		Issue(5):   true,
		Comment(1): false,
	}, got)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClientCheckManyFailsAsAWhole(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/upvotes/issue/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "3" {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "issue not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"upvoted": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := New(srv.URL, nil).CheckMany(context.Background(), []Target{Issue(1), Issue(3)})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "issue:3")
}

func TestClientCheckBatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upvotes/check", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Targets []Target `json:"targets"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		results := make([]map[string]any, 0, len(req.Targets))
		for _, tg := range req.Targets {
			results = append(results, map[string]any{"kind": tg.Kind, "id": tg.ID, "upvoted": tg.ID%2 == 0})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := New(srv.URL, nil).CheckBatch(context.Background(), []Target{Issue(1), Issue(2), Comment(4)})
	require.NoError(t, err)
	assert.Equal(t, map[Target]bool{Issue(1): false, Issue(2): true, Comment(4): true}, got)
}

func TestParseChange(t *testing.T) {
	ch, err := parseChange([]byte(`{"kind":"comment","action":"update","comment":{"id":4,"upvoteCount":2}}`))
	require.NoError(t, err)
	assert.Equal(t, Comment(4), ch.Target)
	assert.Equal(t, "update", ch.Action)
	assert.Equal(t, 2, ch.UpvoteCount)
	assert.JSONEq(t, `{"id":4,"upvoteCount":2}`, string(ch.Record))

	_, err = parseChange([]byte(`{"kind":"issue","action":"update","issue":null}`))
	assert.Error(t, err)
	_, err = parseChange([]byte(`not json`))
	assert.Error(t, err)
}

func TestClientFollow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event:change\ndata:{\"kind\":\"issue\",\"action\":\"update\",\"issue\":{\"id\":1,\"upvoteCount\":5}}\n\n")
		fmt.Fprint(w, "event:change\ndata:garbage\n\n")
		fmt.Fprint(w, "event:other\ndata:{\"kind\":\"issue\",\"action\":\"update\",\"issue\":{\"id\":2}}\n\n")
		fmt.Fprint(w, "event: change\ndata: {\"kind\":\"comment\",\"action\":\"delete\",\"comment\":{\"id\":3,\"upvoteCount\":0}}\n\n")
	}))
	defer srv.Close()

	var (
		mu      sync.Mutex
		changes []Change
	)
	err := New(srv.URL, nil).Follow(context.Background(), func(ch Change) {
		mu.Lock()
		changes = append(changes, ch)
		mu.Unlock()
	})
	assert.ErrorIs(t, err, ErrUnavailable, "a closed stream asks the caller to reconnect")

	require.Len(t, changes, 2)
	assert.Equal(t, Issue(1), changes[0].Target)
	assert.Equal(t, 5, changes[0].UpvoteCount)
	assert.Equal(t, Comment(3), changes[1].Target)
	assert.Equal(t, "delete", changes[1].Action)
}

func TestClientFollowCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New(srv.URL, nil).Follow(ctx, func(Change) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientFollowRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL, nil).Follow(context.Background(), func(Change) {})
	assert.ErrorIs(t, err, ErrUnavailable)
}
