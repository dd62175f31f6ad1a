// Package upvoteclient talks to the civicmap upvote API and keeps displayed
// upvote counts steady while toggle responses and live feed updates race
// each other.
package upvoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	KindIssue   = "issue"
	KindComment = "comment"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("service unavailable")
	ErrBusy         = errors.New("toggle already in progress")
	ErrClosed       = errors.New("reconciler closed")
)

// Target is an upvotable issue or comment.
type Target struct {
	Kind string `json:"kind"`
	ID   uint   `json:"id"`
}

func Issue(id uint) Target   { return Target{Kind: KindIssue, ID: id} }
func Comment(id uint) Target { return Target{Kind: KindComment, ID: id} }

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// ToggleResult is the server's authoritative state after a toggle.
type ToggleResult struct {
	IsUpvoted    bool `json:"isUpvoted"`
	CurrentCount int  `json:"currentCount"`
}

// APIError is a failed call. errors.Is matches it against the package sentinels.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("civicmap: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status >= 400 && e.Status < 500:
		return ErrInvalidInput
	default:
		return ErrUnavailable
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	// CheckConcurrency bounds CheckMany.
	CheckConcurrency int
}

// New returns a client for baseURL. A nil hc gets a client with a cookie jar,
// which the session login needs.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		jar, _ := cookiejar.New(nil)
		hc = &http.Client{Jar: jar, Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		http:             hc,
		CheckConcurrency: 8,
	}
}

func (c *Client) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/api/auth/login", body, nil)
}

// Toggle flips the caller's upvote on t. Every call flips.
func (c *Client) Toggle(ctx context.Context, t Target) (ToggleResult, error) {
	var res ToggleResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/upvotes/%s/%d/toggle", t.Kind, t.ID), nil, &res)
	return res, err
}

func (c *Client) HasUpvoted(ctx context.Context, t Target) (bool, error) {
	var out struct {
		Upvoted bool `json:"upvoted"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/upvotes/%s/%d", t.Kind, t.ID), nil, &out)
	return out.Upvoted, err
}

// CheckMany checks every target in parallel and merges the answers once, so
// the wait is the slowest single check rather than the sum.
func (c *Client) CheckMany(ctx context.Context, targets []Target) (map[Target]bool, error) {
	answers := make([]bool, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	if c.CheckConcurrency > 0 {
		g.SetLimit(c.CheckConcurrency)
	}
	for i, t := range targets {
		g.Go(func() error {
			ok, err := c.HasUpvoted(gctx, t)
			if err != nil {
				return fmt.Errorf("check %s: %w", t, err)
			}
			answers[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[Target]bool, len(targets))
	for i, t := range targets {
		out[t] = answers[i]
	}
	return out, nil
}

// CheckBatch asks the server to check all targets in one request.
func (c *Client) CheckBatch(ctx context.Context, targets []Target) (map[Target]bool, error) {
	var out struct {
		Results []struct {
			Target
			Upvoted bool `json:"upvoted"`
		} `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/upvotes/check", map[string]any{"targets": targets}, &out); err != nil {
		return nil, err
	}
	answers := make(map[Target]bool, len(out.Results))
	for _, r := range out.Results {
		answers[r.Target] = r.Upvoted
	}
	return answers, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
