// Package normalize turns loosely-typed input rows into canonical PostMetrics.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"postpulse/internal/model"
	"postpulse/internal/util"
)

// dateLayouts are tried in order; none of them forces a timezone.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Options tune coercion of raw rows.
type Options struct {
	// HashtagDelimiter is split on in addition to commas, semicolons, pipes and whitespace.
	HashtagDelimiter string
}

// Normalizer validates raw rows. It is safe for concurrent use.
type Normalizer struct {
	opts     Options
	validate *validator.Validate
}

func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts, validate: validator.New(validator.WithRequiredStructEnabled())}
}

var defaultNormalizer = New(Options{})

// Normalize validates and coerces a single row with default options.
func Normalize(raw model.RawRecord) (model.PostMetrics, error) {
	return defaultNormalizer.Normalize(raw)
}

// NormalizeBatch normalizes rows with default options.
func NormalizeBatch(rows []model.RawRecord) BatchResult {
	return defaultNormalizer.Batch(rows)
}

// Normalize validates and coerces a single row. Failures are *model.InvalidRecordError.
func (n *Normalizer) Normalize(raw model.RawRecord) (model.PostMetrics, error) {
	return n.normalize(-1, raw)
}

func (n *Normalizer) normalize(idx int, raw model.RawRecord) (model.PostMetrics, error) {
	var p model.PostMetrics
	reject := func(field string, cause error, reason string) (model.PostMetrics, error) {
		return model.PostMetrics{}, &model.InvalidRecordError{Index: idx, PostID: p.PostID, Field: field, Reason: reason, Err: cause}
	}

	id, err := coerceID(raw[model.FieldPostID])
	if err != nil {
		return reject(model.FieldPostID, model.ErrInvalidRecord, err.Error())
	}
	p.PostID = id

	typ := model.PostType(strings.ToLower(strings.TrimSpace(fmt.Sprint(valueOr(raw[model.FieldPostType], "")))))
	if !model.IsKnownPostType(typ) {
		return reject(model.FieldPostType, model.ErrInvalidPostType, fmt.Sprintf("unrecognized post type %q", typ))
	}
	p.PostType = typ

	for _, c := range []struct {
		field string
		dst   *int64
	}{
		{model.FieldLikes, &p.Likes},
		{model.FieldComments, &p.Comments},
		{model.FieldShares, &p.Shares},
	} {
		v, err := coerceCounter(raw[c.field])
		if err != nil {
			cause := model.ErrInvalidRecord
			if errors.Is(err, model.ErrNegativeCounter) {
				cause = model.ErrNegativeCounter
			}
			return reject(c.field, cause, err.Error())
		}
		*c.dst = v
	}

	ts, err := coerceDate(raw[model.FieldDatePosted])
	if err != nil {
		return reject(model.FieldDatePosted, model.ErrInvalidDate, err.Error())
	}
	p.DatePosted = ts

	tags, err := n.coerceHashtags(raw[model.FieldHashtags])
	if err != nil {
		return reject(model.FieldHashtags, model.ErrInvalidRecord, err.Error())
	}
	p.Hashtags = tags

	if err := n.validate.Struct(p); err != nil {
		return reject("", model.ErrInvalidRecord, err.Error())
	}
	return p, nil
}

// ToRaw expresses a post as a raw row. Normalize(ToRaw(p)) equals p.
func ToRaw(p model.PostMetrics) model.RawRecord {
	tags := make([]string, len(p.Hashtags))
	copy(tags, p.Hashtags)
	return model.RawRecord{
		model.FieldPostID:     p.PostID,
		model.FieldPostType:   string(p.PostType),
		model.FieldLikes:      p.Likes,
		model.FieldComments:   p.Comments,
		model.FieldShares:     p.Shares,
		model.FieldDatePosted: p.DatePosted,
		model.FieldHashtags:   tags,
	}
}

// BatchResult reports a partially successful batch.
type BatchResult struct {
	BatchID  string                      `json:"batch_id"`
	Total    int                         `json:"total"`
	Posts    []model.PostMetrics         `json:"-"`
	Rejected []*model.InvalidRecordError `json:"rejected"`
}

// Accepted is the number of rows that normalized cleanly.
func (b BatchResult) Accepted() int { return len(b.Posts) }

// Batch normalizes rows, skipping malformed ones and later duplicates of a post id.
func (n *Normalizer) Batch(rows []model.RawRecord) BatchResult {
	res := BatchResult{BatchID: uuid.NewString(), Total: len(rows)}
	seen := make(map[string]struct{}, len(rows))
	for i, raw := range rows {
		p, err := n.normalize(i, raw)
		if err != nil {
			var ire *model.InvalidRecordError
			if errors.As(err, &ire) {
				res.Rejected = append(res.Rejected, ire)
			} else {
				res.Rejected = append(res.Rejected, &model.InvalidRecordError{Index: i, Reason: err.Error(), Err: err})
			}
			continue
		}
		if _, dup := seen[p.PostID]; dup {
			res.Rejected = append(res.Rejected, &model.InvalidRecordError{
				Index: i, PostID: p.PostID, Field: model.FieldPostID, Reason: "duplicate post id", Err: model.ErrDuplicatePost,
			})
			continue
		}
		seen[p.PostID] = struct{}{}
		res.Posts = append(res.Posts, p)
	}
	return res
}

func valueOr(v, def any) any {
	if v == nil {
		return def
	}
	return v
}

func coerceID(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", errors.New("post id is required")
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", errors.New("post id is required")
		}
		return s, nil
	case float64:
		if x != math.Trunc(x) {
			return "", fmt.Errorf("post id %v is not integral", x)
		}
		return strconv.FormatInt(int64(x), 10), nil
	case json.Number:
		return x.String(), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x), nil
	default:
		return "", fmt.Errorf("unsupported post id type %T", v)
	}
}

func coerceCounter(v any) (int64, error) {
	var n int64
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint:
		return coerceUint(uint64(x))
	case uint64:
		return coerceUint(x)
	case float32:
		return coerceFloat(float64(x))
	case float64:
		return coerceFloat(x)
	case json.Number:
		return coerceString(x.String())
	case string:
		return coerceString(x)
	default:
		return 0, fmt.Errorf("unsupported counter type %T", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", model.ErrNegativeCounter, n)
	}
	return n, nil
}

func coerceUint(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("counter %d overflows int64", u)
	}
	return int64(u), nil
}

func coerceString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %d", model.ErrNegativeCounter, n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %q is not numeric", s)
	}
	return coerceFloat(f)
}

func coerceFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("counter %v is not an integer", f)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: %v", model.ErrNegativeCounter, f)
	}
	// 2^63 is the first float64 above MaxInt64
	if f >= math.MaxInt64 {
		return 0, fmt.Errorf("counter %v overflows int64", f)
	}
	return int64(f), nil
}

func coerceDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, errors.New("date is zero")
		}
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, errors.New("date is required")
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	case nil:
		return time.Time{}, errors.New("date is required")
	default:
		return time.Time{}, fmt.Errorf("unsupported date type %T", v)
	}
}

func (n *Normalizer) coerceHashtags(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		return util.CanonicalTags(util.SplitHashtags(x, n.opts.HashtagDelimiter)), nil
	case []string:
		var tokens []string
		for _, s := range x {
			tokens = append(tokens, util.SplitHashtags(s, n.opts.HashtagDelimiter)...)
		}
		return util.CanonicalTags(tokens), nil
	case []any:
		var tokens []string
		for _, s := range x {
			str, ok := s.(string)
			if !ok {
				return nil, fmt.Errorf("hashtag %v is not a string", s)
			}
			tokens = append(tokens, util.SplitHashtags(str, n.opts.HashtagDelimiter)...)
		}
		return util.CanonicalTags(tokens), nil
	default:
		return nil, fmt.Errorf("unsupported hashtags type %T", v)
	}
}
