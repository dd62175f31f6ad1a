package upvoteclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const maxEventSize = 1 << 20

// Change is one record change pushed by the live feed.
type Change struct {
	Target      Target
	Action      string // insert, update or delete
	UpvoteCount int
	// Record is the full issue or comment as sent by the server.
	Record json.RawMessage
}

type wireEvent struct {
	Kind    string          `json:"kind"`
	Action  string          `json:"action"`
	Issue   json.RawMessage `json:"issue"`
	Comment json.RawMessage `json:"comment"`
}

type wireRecord struct {
	ID          uint `json:"id"`
	UpvoteCount int  `json:"upvoteCount"`
}

func parseChange(data []byte) (Change, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Change{}, err
	}
	raw := ev.Issue
	if ev.Kind == KindComment {
		raw = ev.Comment
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Change{}, fmt.Errorf("%s event without a record", ev.Kind)
	}
	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Change{}, err
	}
	return Change{
		Target:      Target{Kind: ev.Kind, ID: rec.ID},
		Action:      ev.Action,
		UpvoteCount: rec.UpvoteCount,
		Record:      raw,
	}, nil
}

// Follow streams the live feed and calls fn for every change, in order, until
// ctx is cancelled or the stream breaks. It returns ctx.Err() on cancellation
// and an ErrUnavailable error otherwise, so callers can reconnect.
func (c *Client) Follow(ctx context.Context, fn func(Change)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/feed", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any client timeout.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var (
		event string
		data  strings.Builder
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event == "change" && data.Len() > 0 {
				if ch, err := parseChange([]byte(data.String())); err == nil {
					fn(ch)
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: feed: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: feed closed", ErrUnavailable)
}
