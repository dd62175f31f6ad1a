package models

import (
	"fmt"
)

type TargetKind string

const (
	KindIssue   TargetKind = "issue"
	KindComment TargetKind = "comment"
)

// Target identifies an upvotable record.
type Target struct {
	Kind TargetKind `json:"kind" binding:"required,oneof=issue comment" validate:"required,oneof=issue comment"`
	ID   uint       `json:"id" binding:"required,gt=0" validate:"required,gt=0"`
}

func IssueTarget(id uint) Target   { return Target{Kind: KindIssue, ID: id} }
func CommentTarget(id uint) Target { return Target{Kind: KindComment, ID: id} }

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// Column returns the upvotes column referencing this kind of target.
func (t Target) Column() string {
	if t.Kind == KindComment {
		return "comment_id"
	}
	return "issue_id"
}

// NewRecord returns an empty model of the target's kind, for queries that
// only need the table.
func (t Target) NewRecord() any {
	if t.Kind == KindComment {
		return &Comment{}
	}
	return &Issue{}
}
