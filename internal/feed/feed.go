// Package feed broadcasts full issue and comment records to live subscribers
// whenever one of them changes.
package feed

import (
	"context"
	"time"

	"civicmap/internal/models"
)

type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event carries the whole record after the change, or only its id on delete.
type Event struct {
	Kind    models.TargetKind `json:"kind"`
	Action  Action            `json:"action"`
	Issue   *models.Issue     `json:"issue,omitempty"`
	Comment *models.Comment   `json:"comment,omitempty"`
	At      time.Time         `json:"at"`
}

func IssueChanged(action Action, issue *models.Issue) Event {
	return Event{Kind: models.KindIssue, Action: action, Issue: issue, At: time.Now().UTC()}
}

func CommentChanged(action Action, comment *models.Comment) Event {
	return Event{Kind: models.KindComment, Action: action, Comment: comment, At: time.Now().UTC()}
}

// Target returns the record the event is about; ok is false for malformed events.
func (e Event) Target() (models.Target, bool) {
	switch {
	case e.Kind == models.KindIssue && e.Issue != nil:
		return models.IssueTarget(e.Issue.ID), true
	case e.Kind == models.KindComment && e.Comment != nil:
		return models.CommentTarget(e.Comment.ID), true
	}
	return models.Target{}, false
}

func (e Event) UpvoteCount() int {
	if e.Issue != nil {
		return e.Issue.UpvoteCount
	}
	if e.Comment != nil {
		return e.Comment.UpvoteCount
	}
	return 0
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Broadcaster fans published events out to every live subscription.
// The returned channel is closed once ctx is done.
type Broadcaster interface {
	Publisher
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}
