package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Corpus is an immutable snapshot of posts. Queries take a Corpus value and
// never hold on to a shared "current" dataset.
type Corpus struct {
	posts []PostMetrics
	byID  map[string]int
	fp    string
}

// NewCorpus builds a snapshot. Post order is canonicalized by post id.
func NewCorpus(posts []PostMetrics) (Corpus, error) {
	cp := make([]PostMetrics, len(posts))
	copy(cp, posts)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].PostID < cp[j].PostID })
	byID := make(map[string]int, len(cp))
	for i, p := range cp {
		if _, dup := byID[p.PostID]; dup {
			return Corpus{}, fmt.Errorf("%w: %s", ErrDuplicatePost, p.PostID)
		}
		byID[p.PostID] = i
	}
	c := Corpus{posts: cp, byID: byID}
	c.fp = fingerprint(cp)
	return c, nil
}

// Append returns a new snapshot containing the existing posts plus posts.
func (c Corpus) Append(posts ...PostMetrics) (Corpus, error) {
	all := make([]PostMetrics, 0, len(c.posts)+len(posts))
	all = append(all, c.posts...)
	all = append(all, posts...)
	return NewCorpus(all)
}

// Posts returns a copy of the snapshot's posts ordered by post id.
func (c Corpus) Posts() []PostMetrics {
	out := make([]PostMetrics, len(c.posts))
	copy(out, c.posts)
	return out
}

func (c Corpus) Len() int { return len(c.posts) }

// Get looks up a post by id.
func (c Corpus) Get(id string) (PostMetrics, bool) {
	i, ok := c.byID[id]
	if !ok {
		return PostMetrics{}, false
	}
	return c.posts[i], true
}

// Fingerprint is a stable hash of the snapshot contents.
func (c Corpus) Fingerprint() string {
	if c.fp == "" {
		return fingerprint(nil)
	}
	return c.fp
}

// Fingerprint hashes posts the way a Corpus built from them would, whatever
// their order.
func Fingerprint(posts []PostMetrics) string {
	cp := make([]PostMetrics, len(posts))
	copy(cp, posts)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].PostID < cp[j].PostID })
	return fingerprint(cp)
}

func fingerprint(posts []PostMetrics) string {
	h := sha256.New()
	var buf [8]byte
	for _, p := range posts {
		h.Write([]byte(p.PostID))
		h.Write([]byte{0})
		h.Write([]byte(p.PostType))
		h.Write([]byte{0})
		_, offset := p.DatePosted.Zone()
		for _, v := range []int64{p.Likes, p.Comments, p.Shares, p.DatePosted.UnixNano(), int64(offset)} {
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		}
		h.Write([]byte(strings.Join(p.Hashtags, ",")))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
