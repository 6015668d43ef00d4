package normalize

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"postpulse/internal/model"
)

func TestNormalizeCoercesRow(t *testing.T) {
	p, err := Normalize(model.RawRecord{
		"post_id":     json.Number("42"),
		"post_type":   "  Reel ",
		"likes":       "120",
		"comments":    float64(7),
		"shares":      nil,
		"date_posted": "2024-05-03 18:30:00",
		"hashtags":    "#Launch, summer #launch",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.PostID != "42" || p.PostType != model.PostTypeReel {
		t.Fatalf("id/type: %+v", p)
	}
	if p.Likes != 120 || p.Comments != 7 || p.Shares != 0 {
		t.Fatalf("counters: %+v", p)
	}
	if !p.DatePosted.Equal(time.Date(2024, 5, 3, 18, 30, 0, 0, time.UTC)) {
		t.Fatalf("date: %v", p.DatePosted)
	}
	if !reflect.DeepEqual(p.Hashtags, []string{"launch", "summer"}) {
		t.Fatalf("hashtags: %v", p.Hashtags)
	}
}

func TestNormalizeAcceptsEveryIntegerKind(t *testing.T) {
	counters := []any{int(3), int8(3), int16(3), int32(3), int64(3), uint(3), uint8(3), uint16(3), uint32(3), uint64(3)}
	for _, v := range counters {
		p, err := Normalize(model.RawRecord{"post_id": uint64(9), "post_type": "photo", "date_posted": "2024-01-01", "likes": v, "shares": v})
		if err != nil {
			t.Fatalf("%T: %v", v, err)
		}
		if p.Likes != 3 || p.Shares != 3 || p.PostID != "9" {
			t.Fatalf("%T: %+v", v, p)
		}
	}
	p, err := Normalize(model.RawRecord{"post_id": int16(7), "post_type": "photo", "date_posted": "2024-01-01", "likes": uint64(math.MaxInt64)})
	if err != nil || p.Likes != math.MaxInt64 || p.PostID != "7" {
		t.Fatalf("max counter: %+v %v", p, err)
	}
}

func TestNormalizeRejections(t *testing.T) {
	base := func() model.RawRecord {
		return model.RawRecord{"post_id": "1", "post_type": "photo", "date_posted": "2024-01-01"}
	}
	cases := []struct {
		name  string
		mut   func(model.RawRecord)
		want  error
		field string
	}{
		{"bad type", func(r model.RawRecord) { r["post_type"] = "hologram" }, model.ErrInvalidPostType, "post_type"},
		{"missing type", func(r model.RawRecord) { delete(r, "post_type") }, model.ErrInvalidPostType, "post_type"},
		{"bad date", func(r model.RawRecord) { r["date_posted"] = "yesterday" }, model.ErrInvalidDate, "date_posted"},
		{"negative likes", func(r model.RawRecord) { r["likes"] = -1 }, model.ErrNegativeCounter, "likes"},
		{"negative string shares", func(r model.RawRecord) { r["shares"] = "-3" }, model.ErrNegativeCounter, "shares"},
		{"fractional comments", func(r model.RawRecord) { r["comments"] = 1.5 }, model.ErrInvalidRecord, "comments"},
		{"missing id", func(r model.RawRecord) { r["post_id"] = " " }, model.ErrInvalidRecord, "post_id"},
		{"overflowing uint64 likes", func(r model.RawRecord) { r["likes"] = uint64(math.MaxInt64) + 1 }, model.ErrInvalidRecord, "likes"},
		{"overflowing float shares", func(r model.RawRecord) { r["shares"] = 1e19 }, model.ErrInvalidRecord, "shares"},
		{"negative int8 comments", func(r model.RawRecord) { r["comments"] = int8(-2) }, model.ErrNegativeCounter, "comments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := base()
			tc.mut(r)
			_, err := Normalize(r)
			if !errors.Is(err, tc.want) || !errors.Is(err, model.ErrInvalidRecord) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ire *model.InvalidRecordError
			if !errors.As(err, &ire) || ire.Field != tc.field {
				t.Fatalf("expected field %s, got %+v", tc.field, ire)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	rows := []model.RawRecord{
		{"post_id": "a", "post_type": "VIDEO", "likes": 3, "date_posted": "2024-02-01T09:15:00+02:00", "hashtags": "b;a"},
		{"post_id": 7, "post_type": "text", "comments": "2", "date_posted": "02/28/2024"},
	}
	for _, r := range rows {
		p, err := Normalize(r)
		if err != nil {
			t.Fatal(err)
		}
		again, err := Normalize(ToRaw(p))
		if err != nil {
			t.Fatal(err)
		}
		if !p.Equal(again) {
			t.Fatalf("not idempotent: %+v vs %+v", p, again)
		}
	}
}

func TestNormalizeBatchIsPartialFailureTolerant(t *testing.T) {
	res := NormalizeBatch([]model.RawRecord{
		{"post_id": "1", "post_type": "photo", "date_posted": "2024-01-01"},
		{"post_id": "2", "post_type": "nope", "date_posted": "2024-01-01"},
		{"post_id": "1", "post_type": "photo", "date_posted": "2024-01-02"},
		{"post_id": "3", "post_type": "video", "date_posted": "2024-01-03", "likes": "-4"},
		{"post_id": "4", "post_type": "text", "date_posted": "2024-01-04", "hashtags": []any{"#x", "Y"}},
	})
	if res.Total != 5 || res.Accepted() != 2 || len(res.Rejected) != 3 {
		t.Fatalf("unexpected batch result: total=%d accepted=%d rejected=%d", res.Total, res.Accepted(), len(res.Rejected))
	}
	if res.BatchID == "" {
		t.Fatalf("missing batch id")
	}
	if res.Rejected[1].Index != 2 || !errors.Is(res.Rejected[1], model.ErrDuplicatePost) {
		t.Fatalf("duplicate not reported: %+v", res.Rejected[1])
	}
	if !reflect.DeepEqual(res.Posts[1].Hashtags, []string{"x", "y"}) {
		t.Fatalf("hashtags: %v", res.Posts[1].Hashtags)
	}
}

func TestCustomDelimiter(t *testing.T) {
	n := New(Options{HashtagDelimiter: "/"})
	p, err := n.Normalize(model.RawRecord{"post_id": "1", "post_type": "photo", "date_posted": "2024-01-01", "hashtags": "a/b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Hashtags) != 2 {
		t.Fatalf("hashtags: %v", p.Hashtags)
	}
}
