package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout renders record timestamps as "19 October 2026 - 02:05 PM UTC".
const TimestampLayout = "02 January 2006 - 03:04 PM UTC"

type Action string

const (
	ActionPush        Action = "push"
	ActionPullRequest Action = "pull_request"
	ActionMerge       Action = "merge"
)

func (a Action) Valid() bool {
	switch a {
	case ActionPush, ActionPullRequest, ActionMerge:
		return true
	default:
		return false
	}
}

var ErrInvalidRecord = errors.New("invalid record")

// Record is the canonical, provider independent form of an actionable
// repository event. Records are immutable once stored.
type Record struct {
	Action     Action  `json:"action"`
	Author     string  `json:"author"`
	FromBranch *string `json:"from_branch"`
	ToBranch   string  `json:"to_branch"`
	Timestamp  string  `json:"timestamp"`
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func (r Record) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRecord, r.Action)
	}
	if strings.TrimSpace(r.Author) == "" {
		return fmt.Errorf("%w: author is required", ErrInvalidRecord)
	}
	if r.Action == ActionPush && r.FromBranch != nil {
		return fmt.Errorf("%w: push records have no from_branch", ErrInvalidRecord)
	}
	if r.Action != ActionPush && r.FromBranch == nil {
		return fmt.Errorf("%w: %s records require from_branch", ErrInvalidRecord, r.Action)
	}
	if strings.TrimSpace(r.Timestamp) == "" {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	if r.FromBranch != nil {
		from := *r.FromBranch
		r.FromBranch = &from
	}
	return r
}

// FromBranchValue returns the source branch, or "" for push records.
func (r Record) FromBranchValue() string {
	if r.FromBranch == nil {
		return ""
	}
	return *r.FromBranch
}

// Fields returns the record as a generic JSON-compatible tree, the shape
// expected by query engines that operate on decoded JSON.
func (r Record) Fields() map[string]interface{} {
	var from interface{}
	if r.FromBranch != nil {
		from = *r.FromBranch
	}
	return map[string]interface{}{
		"action":      string(r.Action),
		"author":      r.Author,
		"from_branch": from,
		"to_branch":   r.ToBranch,
		"timestamp":   r.Timestamp,
	}
}

func StringPtr(s string) *string {
	return &s
}
