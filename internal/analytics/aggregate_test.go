package analytics

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"postpulse/internal/model"
	"postpulse/internal/scoring"
)

func scored(id string, typ model.PostType, score float64, at time.Time, tags ...string) scoring.Scored {
	return scoring.Scored{
		Post:       model.PostMetrics{PostID: id, PostType: typ, DatePosted: at, Hashtags: tags},
		Engagement: scoring.EngagementScore{PostID: id, PostType: typ, Score: score},
	}
}

var mon = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC) // a Monday

func fixture() []scoring.Scored {
	return []scoring.Scored{
		scored("1", model.PostTypePhoto, 1, mon, "launch", "summer"),
		scored("2", model.PostTypePhoto, 3, mon.Add(26*time.Hour), "launch"),
		scored("3", model.PostTypeVideo, 2, mon.Add(50*time.Hour), "summer"),
		scored("4", model.PostTypeText, 2, mon.AddDate(0, 0, 7)),
		scored("5", model.PostTypeVideo, 2, mon.AddDate(0, 0, 8), "launch"),
	}
}

func TestAggregateContentTypeOrdering(t *testing.T) {
	stats, err := Aggregate(fixture(), ByContentType, Options{})
	if err != nil {
		t.Fatal(err)
	}
	keys := []string{}
	for _, s := range stats {
		keys = append(keys, s.Key)
	}
	// photo mean 2 (n=2), video mean 2 (n=2), text mean 2 (n=1): tie on mean,
	// then count desc, then key asc.
	if !reflect.DeepEqual(keys, []string{"photo", "video", "text"}) {
		t.Fatalf("order: %v", keys)
	}
	if stats[0].Rank != 1 || stats[2].Rank != 3 {
		t.Fatalf("ranks: %+v", stats)
	}
	if stats[0].Variance != 1 || stats[1].Variance != 0 {
		t.Fatalf("variance: %v %v", stats[0].Variance, stats[1].Variance)
	}
}

func TestAggregateHashtagCreditsEveryTag(t *testing.T) {
	stats, err := Aggregate(fixture(), ByHashtag, Options{})
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]int{}
	for _, s := range stats {
		counts[s.Key] = s.Count
	}
	if counts["launch"] != 3 || counts["summer"] != 2 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestAggregateTimeBuckets(t *testing.T) {
	daily, err := Aggregate(fixture(), ByTimeBucket, Options{Granularity: Day})
	if err != nil {
		t.Fatal(err)
	}
	if len(daily) != 5 {
		t.Fatalf("expected 5 daily buckets, got %d", len(daily))
	}
	weekly, err := Aggregate(fixture(), ByTimeBucket, Options{Granularity: Week})
	if err != nil {
		t.Fatal(err)
	}
	chrono := Chronological(weekly)
	if len(chrono) != 2 || chrono[0].Key != "2024-06-03" || chrono[1].Key != "2024-06-10" {
		t.Fatalf("weekly buckets: %+v", chrono)
	}
	if chrono[0].Count != 3 || chrono[0].BucketStart == nil || chrono[0].BucketStart.Weekday() != time.Monday {
		t.Fatalf("first week: %+v", chrono[0])
	}
}

func TestBucketStartKeepsLocalCalendarDate(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	ts := time.Date(2024, 6, 9, 1, 0, 0, 0, loc) // Sunday locally, Saturday in UTC
	if got := BucketStart(ts, Day).Format(bucketLayout); got != "2024-06-09" {
		t.Fatalf("day bucket: %s", got)
	}
	if got := BucketStart(ts, Week).Format(bucketLayout); got != "2024-06-03" {
		t.Fatalf("week bucket: %s", got)
	}
}

func TestAggregateDeterministicAndParallelMatchesSerial(t *testing.T) {
	var in []scoring.Scored
	for i := 0; i < 200; i++ {
		typ := []model.PostType{model.PostTypePhoto, model.PostTypeReel, model.PostTypeText}[i%3]
		in = append(in, scored(string(rune('a'+i%26))+string(rune('0'+i/26)), typ, float64(i%17)/3, mon.Add(time.Duration(i)*time.Hour), "t"+string(rune('a'+i%5))))
	}
	for _, dim := range []Dimension{ByContentType, ByHashtag, ByTimeBucket} {
		a, _ := Aggregate(in, dim, Options{})
		b, _ := Aggregate(in, dim, Options{})
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("%s: not deterministic", dim)
		}
		p, _ := Aggregate(in, dim, Options{Workers: 4})
		if len(p) != len(a) {
			t.Fatalf("%s: parallel len %d vs %d", dim, len(p), len(a))
		}
		byKey := map[string]AggregateStat{}
		for _, s := range p {
			byKey[s.Key] = s
		}
		for _, s := range a {
			q, ok := byKey[s.Key]
			if !ok || q.Count != s.Count ||
				math.Abs(q.Mean-s.Mean) > 1e-9 || math.Abs(q.Variance-s.Variance) > 1e-9 {
				t.Fatalf("%s: parallel mismatch for %s: %+v vs %+v", dim, s.Key, q, s)
			}
		}
	}
}

func TestUnknownDimension(t *testing.T) {
	if _, err := Aggregate(nil, "author", Options{}); !errors.Is(err, model.ErrUnknownDimension) {
		t.Fatalf("expected ErrUnknownDimension, got %v", err)
	}
	if _, err := ParseDimension(" Hashtag "); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestAggregateEmpty(t *testing.T) {
	stats, err := Aggregate(nil, ByContentType, Options{})
	if err != nil || len(stats) != 0 {
		t.Fatalf("expected empty result, got %v %v", stats, err)
	}
}

func TestPartition(t *testing.T) {
	parts, err := Partition(fixture(), ByHashtag, Day)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts["launch"]) != 3 || len(parts["summer"]) != 2 {
		t.Fatalf("partitions: %v", parts)
	}
}
