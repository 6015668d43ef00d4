package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRecord    = errors.New("invalid record")
	ErrInvalidPostType  = errors.New("invalid post type")
	ErrInvalidDate      = errors.New("invalid date")
	ErrNegativeCounter  = errors.New("negative counter")
	ErrDuplicatePost    = errors.New("duplicate post id")
	ErrUnknownDimension = errors.New("unknown dimension")
	ErrIndexStale       = errors.New("similarity index is stale")
	ErrUnknownPost      = errors.New("unknown post")
	ErrInvalidK         = errors.New("k must be at least 1")
)

// InvalidRecordError describes why a single input row was rejected.
// Index is the row position within its batch, or -1 outside a batch.
type InvalidRecordError struct {
	Index  int    `json:"index"`
	PostID string `json:"post_id,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *InvalidRecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record %d (%s): %s: %s", e.Index, e.PostID, e.Field, e.Reason)
	}
	return fmt.Sprintf("record %d (%s): %s", e.Index, e.PostID, e.Reason)
}

// Unwrap exposes both the specific cause and ErrInvalidRecord to errors.Is.
func (e *InvalidRecordError) Unwrap() []error {
	if e.Err == nil || e.Err == ErrInvalidRecord {
		return []error{ErrInvalidRecord}
	}
	return []error{e.Err, ErrInvalidRecord}
}
