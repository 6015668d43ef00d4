// Package httpapi exposes the analytics queries over HTTP.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"postpulse/internal/advise"
	"postpulse/internal/analytics"
	"postpulse/internal/cache"
	"postpulse/internal/engine"
	"postpulse/internal/forecast"
	"postpulse/internal/logging"
	"postpulse/internal/metrics"
	"postpulse/internal/model"
	"postpulse/internal/similarity"
)

// CorpusSource supplies the snapshot each request works on. The index may be
// nil, in which case similarity queries build one on demand.
type CorpusSource interface {
	Snapshot() (model.Corpus, *similarity.Index)
}

type Options struct {
	Engine   *engine.Engine
	Source   CorpusSource
	Cache    *cache.ResultCache
	Advisor  *advise.Advisor
	DefaultK int
}

type Server struct {
	eng      *engine.Engine
	src      CorpusSource
	cache    *cache.ResultCache
	advisor  *advise.Advisor
	defaultK int
}

func New(opts Options) *Server {
	if opts.Engine == nil {
		opts.Engine = engine.New(engine.Config{})
	}
	if opts.DefaultK < 1 {
		opts.DefaultK = 5
	}
	return &Server{eng: opts.Engine, src: opts.Source, cache: opts.Cache, advisor: opts.Advisor, defaultK: opts.DefaultK}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/health", s.health)
	v1 := r.Group("/v1")
	v1.GET("/content-types", s.contentTypes)
	v1.GET("/hashtags", s.hashtags)
	v1.GET("/posts/:id/similar", s.similar)
	v1.POST("/forecast", s.forecast)
	v1.GET("/trend", s.trend)
	v1.GET("/hours", s.hours)
	v1.GET("/report", s.report)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Logger().WithFields(logging.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Info("http_request")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrUnknownPost):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrUnknownDimension), errors.Is(err, model.ErrInvalidK), errors.Is(err, errBadParam):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrIndexStale):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logging.Error("http_error", map[string]any{"path": c.FullPath(), "error": err.Error()})
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

var errBadParam = errors.New("bad parameter")

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadParam, name)
	}
	return n, nil
}

func (s *Server) snapshot() (model.Corpus, *similarity.Index) {
	if s.src == nil {
		return model.Corpus{}, nil
	}
	return s.src.Snapshot()
}

// cached runs fn through the result cache under the corpus fingerprint.
func (s *Server) cached(c *gin.Context, corpus model.Corpus, query string, dst any, fn func() (any, error)) error {
	return s.cache.GetOrCompute(c.Request.Context(), cache.Key(corpus.Fingerprint(), query), dst, fn)
}

func (s *Server) health(c *gin.Context) {
	corpus, ix := s.snapshot()
	resp := gin.H{"status": "ok", "posts": corpus.Len(), "fingerprint": corpus.Fingerprint()}
	if ix != nil {
		resp["index_version"] = ix.Version()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) contentTypes(c *gin.Context) {
	defer metrics.ObserveQuery("content_types", time.Now())
	corpus, _ := s.snapshot()
	var out []analytics.AggregateStat
	if err := s.cached(c, corpus, "content_types", &out, func() (any, error) {
		return s.eng.RankContentTypes(corpus), nil
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content_types": nonNil(out)})
}

func (s *Server) hashtags(c *gin.Context) {
	defer metrics.ObserveQuery("hashtags", time.Now())
	n, err := intQuery(c, "n", 10)
	if err != nil {
		writeError(c, err)
		return
	}
	corpus, _ := s.snapshot()
	var out []analytics.AggregateStat
	if err := s.cached(c, corpus, fmt.Sprintf("hashtags:%d", n), &out, func() (any, error) {
		return s.eng.TopHashtags(corpus, n), nil
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hashtags": nonNil(out)})
}

func (s *Server) similar(c *gin.Context) {
	defer metrics.ObserveQuery("similar", time.Now())
	k, err := intQuery(c, "k", s.defaultK)
	if err != nil {
		writeError(c, err)
		return
	}
	id := c.Param("id")
	corpus, ix := s.snapshot()
	var ns []similarity.Neighbor
	if ix != nil {
		ns, err = s.eng.FindSimilarWith(ix, corpus, id, k)
	} else {
		ns, err = s.eng.FindSimilar(corpus, id, k)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post_id": id, "k": k, "neighbors": nonNil(ns)})
}

type forecastRequest struct {
	PostType string    `json:"post_type" binding:"required"`
	Hashtags []string  `json:"hashtags"`
	PostedAt time.Time `json:"posted_at"`
}

func (s *Server) forecast(c *gin.Context) {
	defer metrics.ObserveQuery("forecast", time.Now())
	var req forecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadParam, err))
		return
	}
	corpus, _ := s.snapshot()
	res := s.eng.Forecast(corpus, forecast.Candidate{PostType: model.PostType(req.PostType), Hashtags: req.Hashtags, PostedAt: req.PostedAt})
	c.JSON(http.StatusOK, res)
}

func (s *Server) trend(c *gin.Context) {
	defer metrics.ObserveQuery("trend", time.Now())
	dim, err := analytics.ParseDimension(c.DefaultQuery("dimension", string(analytics.ByTimeBucket)))
	if err != nil {
		writeError(c, err)
		return
	}
	buckets, err := intQuery(c, "buckets", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	corpus, _ := s.snapshot()
	var out []engine.TrendSeries
	if err := s.cached(c, corpus, fmt.Sprintf("trend:%s:%d", dim, buckets), &out, func() (any, error) {
		return s.eng.Trend(corpus, dim, buckets)
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dimension": dim, "series": nonNil(out)})
}

func (s *Server) hours(c *gin.Context) {
	defer metrics.ObserveQuery("hours", time.Now())
	n, err := intQuery(c, "n", 3)
	if err != nil {
		writeError(c, err)
		return
	}
	corpus, _ := s.snapshot()
	typ := model.PostType(c.Query("type"))
	c.JSON(http.StatusOK, gin.H{"post_type": typ, "hours": nonNil(s.eng.BestHours(corpus, typ, n))})
}

func (s *Server) report(c *gin.Context) {
	defer metrics.ObserveQuery("report", time.Now())
	n, err := intQuery(c, "n", 5)
	if err != nil {
		writeError(c, err)
		return
	}
	corpus, _ := s.snapshot()
	var r engine.Report
	if err := s.cached(c, corpus, fmt.Sprintf("report:%d", n), &r, func() (any, error) {
		return s.eng.Report(corpus, n), nil
	}); err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"report": r}
	if c.Query("advice") == "true" && s.advisor != nil {
		d, _ := s.advisor.Draft(c.Request.Context(), r)
		resp["advice"] = d
	}
	c.JSON(http.StatusOK, resp)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
