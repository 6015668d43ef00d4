// Package atlas mirrors similarity vectors into a MongoDB Atlas collection and
// queries them through an Atlas Vector Search index.
package atlas

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"postpulse/internal/model"
	"postpulse/internal/similarity"
)

// Collection is the subset of *mongo.Collection the store needs.
type Collection interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// Document is the stored form of a similarity entry.
type Document struct {
	ID        string    `bson:"_id"`
	Version   string    `bson:"version"`
	PostID    string    `bson:"post_id"`
	PostType  string    `bson:"post_type"`
	Score     float64   `bson:"score"`
	Embedding []float32 `bson:"embedding"`
}

type hit struct {
	PostID     string  `bson:"post_id"`
	Score      float64 `bson:"score"`
	Similarity float64 `bson:"similarity"`
}

type Store struct {
	coll      Collection
	indexName string
	// dims is the numDimensions of the Atlas index; 0 stores vectors as is.
	dims int
}

// Connect opens a client for uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongodb uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

func NewStore(coll Collection, indexName string) *Store {
	return &Store{coll: coll, indexName: indexName}
}

// WithDimensions zero-pads stored and query vectors to n, the fixed
// numDimensions of the Atlas index. Every vocabulary version then fits the
// same index; trailing zeros leave cosine similarity unchanged.
func (s *Store) WithDimensions(n int) *Store {
	s.dims = n
	return s
}

func (s *Store) pad(vec similarity.FeatureVector) ([]float32, error) {
	if s.dims <= 0 || len(vec) == s.dims {
		return []float32(vec), nil
	}
	if len(vec) > s.dims {
		return nil, fmt.Errorf("vector has %d dimensions, index holds %d", len(vec), s.dims)
	}
	out := make([]float32, s.dims)
	copy(out, vec)
	return out, nil
}

// Upsert replaces the documents of version with entries.
func (s *Store) Upsert(ctx context.Context, version string, entries []similarity.Entry) error {
	if version == "" {
		return errors.New("version is required")
	}
	for _, e := range entries {
		if s.dims > 0 && len(e.Vector) > s.dims {
			return fmt.Errorf("post %s: vector has %d dimensions, index holds %d", e.PostID, len(e.Vector), s.dims)
		}
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{"version": version}); err != nil {
		return fmt.Errorf("delete version %s: %w", version, err)
	}
	if len(entries) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		emb, err := s.pad(e.Vector)
		if err != nil {
			return fmt.Errorf("post %s: %w", e.PostID, err)
		}
		doc := Document{
			ID:        version + ":" + e.PostID,
			Version:   version,
			PostID:    e.PostID,
			PostType:  string(e.PostType),
			Score:     e.Score,
			Embedding: emb,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	return nil
}

// SearchPipeline builds the $vectorSearch aggregation for a query.
func SearchPipeline(indexName, version string, vec similarity.FeatureVector, k int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: indexName},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: []float32(vec)},
			{Key: "numCandidates", Value: max(10*k, 100)},
			{Key: "limit", Value: k},
			{Key: "filter", Value: bson.D{{Key: "version", Value: version}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "post_id", Value: 1},
			{Key: "score", Value: 1},
			{Key: "similarity", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}
}

// Search queries the vector index. Atlas reports cosine similarity as
// (1 + cos) / 2, which is mapped back to cosine distance.
func (s *Store) Search(ctx context.Context, version string, vec similarity.FeatureVector, k int) ([]similarity.Neighbor, error) {
	if k < 1 {
		return nil, model.ErrInvalidK
	}
	q, err := s.pad(vec)
	if err != nil {
		return nil, err
	}
	cur, err := s.coll.Aggregate(ctx, SearchPipeline(s.indexName, version, q, k))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer cur.Close(ctx)

	out := []similarity.Neighbor{}
	for cur.Next(ctx) {
		var h hit
		if err := cur.Decode(&h); err != nil {
			return nil, fmt.Errorf("decode hit: %w", err)
		}
		out = append(out, similarity.Neighbor{PostID: h.PostID, Score: h.Score, Distance: ScoreToDistance(h.Similarity)})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	similarity.SortNeighbors(out)
	return out, nil
}

// ScoreToDistance converts an Atlas cosine score to 1 - cos.
func ScoreToDistance(score float64) float64 {
	d := 1 - (2*score - 1)
	if d < 1e-9 {
		return 0
	}
	return d
}

// DeleteVersion removes the documents of version.
func (s *Store) DeleteVersion(ctx context.Context, version string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"version": version}); err != nil {
		return fmt.Errorf("delete version %s: %w", version, err)
	}
	return nil
}
