package model

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PostType is the content format of a post.
type PostType string

const (
	PostTypePhoto PostType = "photo"
	PostTypeVideo PostType = "video"
	PostTypeReel  PostType = "reel"
	PostTypeText  PostType = "text"
)

var (
	typesMu    sync.RWMutex
	knownTypes = map[PostType]struct{}{
		PostTypePhoto: {},
		PostTypeVideo: {},
		PostTypeReel:  {},
		PostTypeText:  {},
	}
)

// RegisterPostType adds a recognized post type. Names are lowercased and trimmed.
func RegisterPostType(name string) PostType {
	t := PostType(strings.ToLower(strings.TrimSpace(name)))
	if t == "" {
		return t
	}
	typesMu.Lock()
	knownTypes[t] = struct{}{}
	typesMu.Unlock()
	return t
}

// IsKnownPostType reports whether t is a recognized post type.
func IsKnownPostType(t PostType) bool {
	typesMu.RLock()
	defer typesMu.RUnlock()
	_, ok := knownTypes[t]
	return ok
}

// KnownPostTypes returns the recognized post types in lexical order.
func KnownPostTypes() []PostType {
	typesMu.RLock()
	out := make([]PostType, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	typesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PostMetrics is one ingested post. It is immutable once created.
type PostMetrics struct {
	PostID     string    `json:"post_id" validate:"required"`
	PostType   PostType  `json:"post_type" validate:"required,lowercase"`
	Likes      int64     `json:"likes" validate:"gte=0"`
	Comments   int64     `json:"comments" validate:"gte=0"`
	Shares     int64     `json:"shares" validate:"gte=0"`
	DatePosted time.Time `json:"date_posted" validate:"required"`
	// Hashtags holds unique lowercase tokens sorted ascending.
	Hashtags []string `json:"hashtags" validate:"dive,required,lowercase"`
}

// HasHashtag reports whether the post carries tag.
func (p PostMetrics) HasHashtag(tag string) bool {
	i := sort.SearchStrings(p.Hashtags, tag)
	return i < len(p.Hashtags) && p.Hashtags[i] == tag
}

// Equal compares two posts field by field.
func (p PostMetrics) Equal(o PostMetrics) bool {
	if p.PostID != o.PostID || p.PostType != o.PostType || p.Likes != o.Likes ||
		p.Comments != o.Comments || p.Shares != o.Shares || !p.DatePosted.Equal(o.DatePosted) {
		return false
	}
	if len(p.Hashtags) != len(o.Hashtags) {
		return false
	}
	for i := range p.Hashtags {
		if p.Hashtags[i] != o.Hashtags[i] {
			return false
		}
	}
	return true
}

// RawRecord is a loosely-typed input row as produced by an external loader.
type RawRecord map[string]any

// Raw record field names.
const (
	FieldPostID     = "post_id"
	FieldPostType   = "post_type"
	FieldLikes      = "likes"
	FieldComments   = "comments"
	FieldShares     = "shares"
	FieldDatePosted = "date_posted"
	FieldHashtags   = "hashtags"
)
