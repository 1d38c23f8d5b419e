package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/SectorPulse/internal/aggregator"
	"github.com/LJTian/SectorPulse/internal/metrics"
	"github.com/LJTian/SectorPulse/internal/sector"
	"github.com/LJTian/SectorPulse/internal/social"
	"github.com/LJTian/SectorPulse/internal/storage"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// SourceProvider 请求时才取上游客户端，缺少凭据时返回 social.ErrNoCredentials
type SourceProvider interface {
	Source() (social.Source, error)
}

type Server struct {
	catalog     *sector.Catalog
	provider    SourceProvider
	store       *storage.Store
	aggOpts     aggregator.Options
	serviceOpts []aggregator.Option
	cacheTTL    time.Duration
	log         *logrus.Entry
}

type Option func(*Server)

func WithAggregatorOptions(o aggregator.Options, extra ...aggregator.Option) Option {
	return func(s *Server) {
		s.aggOpts = o
		s.serviceOpts = extra
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Server) { s.cacheTTL = ttl }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Server) { s.log = l }
}

// NewServer store 可以为 nil，此时不做缓存，也不提供 /events
func NewServer(catalog *sector.Catalog, provider SourceProvider, store *storage.Store, opts ...Option) *Server {
	s := &Server{
		catalog:  catalog,
		provider: provider,
		store:    store,
		aggOpts:  aggregator.DefaultOptions(),
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.Use(cors(), metrics.Middleware())

	r.GET("/", s.root)
	r.GET("/health", s.health)
	r.GET("/metrics", metrics.Handler())

	r.GET("/sectors", s.listSectors)
	sec := r.Group("/sectors/:sector")
	{
		sec.GET("", s.sectorInfo)
		sec.GET("/trending", s.sectorTrending)
		sec.GET("/posts", s.sectorPosts)
		sec.GET("/hashtags/trending", s.hashtagTrending)
		sec.GET("/accounts", s.sectorAccounts)
	}
	r.GET("/search", s.search)
	r.GET("/events", s.listEvents)
}

// cors 与原有前端约定一致：允许任意来源
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "SectorPulse API", "status": "running"})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listSectors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sectors": s.catalog.Keys()})
}

func (s *Server) sectorInfo(c *gin.Context) {
	sec, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SectorInfo{
		Name:        sec.Key,
		DisplayName: sec.Name,
		Hashtags:    sec.Hashtags,
		Description: "Investment sector for " + sec.Name,
	})
}

// sectorTrending 官方账号在该板块的相关帖子
func (s *Server) sectorTrending(c *gin.Context) {
	sec, ok := s.lookup(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", defaultLimit)
	s.respondPosts(c, fmt.Sprintf("sector:%s:government:%d", sec.Key, limit), func(ctx context.Context, svc *aggregator.Service) (aggregator.PostsResult, error) {
		return svc.GovernmentPosts(ctx, sec.Key, limit)
	})
}

// sectorPosts 话题时间线里互动量最高的帖子
func (s *Server) sectorPosts(c *gin.Context) {
	sec, ok := s.lookup(c)
	if !ok {
		return
	}
	topN := queryInt(c, "top_n", defaultLimit)
	s.respondPosts(c, fmt.Sprintf("sector:%s:posts:%d", sec.Key, topN), func(ctx context.Context, svc *aggregator.Service) (aggregator.PostsResult, error) {
		return svc.TopPosts(ctx, sec.Key, topN)
	})
}

// hashtagTrending 话题时间线 + 全站热门
func (s *Server) hashtagTrending(c *gin.Context) {
	sec, ok := s.lookup(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", defaultLimit)
	s.respondPosts(c, fmt.Sprintf("sector:%s:trending:%d", sec.Key, limit), func(ctx context.Context, svc *aggregator.Service) (aggregator.PostsResult, error) {
		return svc.SectorTrending(ctx, sec.Key, limit)
	})
}

func (s *Server) sectorAccounts(c *gin.Context) {
	sec, ok := s.lookup(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", defaultLimit)
	minFollowers := queryInt(c, "min_followers", 0)

	key := fmt.Sprintf("sector:%s:accounts:%d:%d", sec.Key, limit, minFollowers)
	var cached AccountsResponse
	if s.store.CacheGet(c.Request.Context(), key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	svc, ok := s.service(c)
	if !ok {
		return
	}
	res, err := svc.SectorAccounts(c.Request.Context(), sec.Key, limit, minFollowers)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := AccountsResponse{Sector: res.Sector, Accounts: res.Accounts, Sources: res.Sources}
	if resp.Accounts == nil {
		resp.Accounts = []social.Account{}
	}
	s.store.CacheSet(c.Request.Context(), key, resp, s.cacheTTL)
	c.JSON(http.StatusOK, resp)
}

// search 自定义关键词搜索
func (s *Server) search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "query parameter q is required"})
		return
	}
	limit := queryInt(c, "limit", defaultLimit)
	minFollowers := queryInt(c, "min_followers", 0)
	verifiedOnly, _ := strconv.ParseBool(c.DefaultQuery("verified_only", "false"))

	key := fmt.Sprintf("search:%s:%d:%d:%t", strings.ToLower(q), limit, minFollowers, verifiedOnly)
	s.respondPosts(c, key, func(ctx context.Context, svc *aggregator.Service) (aggregator.PostsResult, error) {
		return svc.CustomQuery(ctx, q, limit, minFollowers, verifiedOnly)
	})
}

// listEvents 查询导出任务归档到数据库的事件
func (s *Server) listEvents(c *gin.Context) {
	if s.store == nil || s.store.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": storage.ErrNoDatabase.Error()})
		return
	}
	date := c.DefaultQuery("date", time.Now().Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "date must be YYYY-MM-DD"})
		return
	}
	list, err := s.store.ListEvents(c.Request.Context(), date, c.Query("sector"), queryInt(c, "limit", 100))
	if err != nil {
		s.log.WithError(err).Error("list events failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "events": list})
}

func (s *Server) lookup(c *gin.Context) (sector.Sector, bool) {
	key := c.Param("sector")
	sec, err := s.catalog.Lookup(key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"detail": fmt.Sprintf("Sector '%s' not found. Available: %s", key, strings.Join(s.catalog.Keys(), ", ")),
		})
		return sector.Sector{}, false
	}
	return sec, true
}

// service 每个请求构建一个聚合服务，上游客户端由 provider 共享
func (s *Server) service(c *gin.Context) (*aggregator.Service, bool) {
	src, err := s.provider.Source()
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	opts := append([]aggregator.Option{aggregator.WithLogger(s.log)}, s.serviceOpts...)
	return aggregator.New(src, s.catalog, s.aggOpts, opts...), true
}

func (s *Server) respondPosts(c *gin.Context, cacheKey string, run func(context.Context, *aggregator.Service) (aggregator.PostsResult, error)) {
	ctx := c.Request.Context()
	var cached PostsResponse
	if s.store.CacheGet(ctx, cacheKey, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	svc, ok := s.service(c)
	if !ok {
		return
	}
	res, err := run(ctx, svc)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := newPostsResponse(res)
	s.store.CacheSet(ctx, cacheKey, resp, s.cacheTTL)
	c.JSON(http.StatusOK, resp)
}

// fail 把领域错误映射为 HTTP 状态码
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sector.ErrUnknownSector):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, social.ErrNoCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{
			"detail": "No credentials provided. Set TRUTHSOCIAL_USERNAME/PASSWORD or TRUTHSOCIAL_TOKEN",
		})
	case errors.Is(err, social.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"detail": err.Error()})
	default:
		s.log.WithError(err).WithField("path", c.FullPath()).Error("upstream request failed")
		c.JSON(http.StatusBadGateway, gin.H{"detail": err.Error()})
	}
}

// queryInt 非法或越界的值退回默认值
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}
