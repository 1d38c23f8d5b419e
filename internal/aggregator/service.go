package aggregator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/LJTian/SectorPulse/internal/metrics"
	"github.com/LJTian/SectorPulse/internal/processor"
	"github.com/LJTian/SectorPulse/internal/sector"
	"github.com/LJTian/SectorPulse/internal/social"
)

// Options 每个数据源的调用次数都是固定的小常量，不做自适应
type Options struct {
	// 同一数据源两次调用之间的固定间隔
	Delay            time.Duration
	MaxHashtags      int
	HashtagPageSize  int
	TrendingLimit    int
	AccountPostLimit int
	HoursBack        int
}

func DefaultOptions() Options {
	return Options{
		Delay:            500 * time.Millisecond,
		MaxHashtags:      5,
		HashtagPageSize:  40,
		TrendingLimit:    20,
		AccountPostLimit: 50,
		HoursBack:        72,
	}
}

// Service 针对单个上游 Source 做板块聚合；每次调用的状态只在本次调用内有效
type Service struct {
	src     social.Source
	catalog *sector.Catalog
	opts    Options
	log     *logrus.Entry
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *logrus.Entry) Option {
	return func(s *Service) { s.log = l }
}

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(src social.Source, catalog *sector.Catalog, opts Options, extra ...Option) *Service {
	s := &Service{
		src:     src,
		catalog: catalog,
		opts:    opts,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		sleep:   social.Sleep,
		now:     time.Now,
	}
	for _, o := range extra {
		o(s)
	}
	return s
}

// PostsResult 各聚合接口的统一返回
type PostsResult struct {
	Sector     string        `json:"sector"`
	SectorName string        `json:"sector_name"`
	Hashtags   []string      `json:"hashtags"`
	Posts      []social.Post `json:"posts"`
	Sources    []string      `json:"sources"`
	// 仅 GovernmentPosts 使用：false 表示没有任何关键词命中，返回的是未过滤的最新帖子
	IsFiltered bool  `json:"is_filtered"`
	Skipped    int64 `json:"-"`
}

func postID(p social.Post) string { return p.ID }

func byEngagement(p social.Post) float64 { return float64(p.Engagement()) }

func byFavourites(p social.Post) float64 { return float64(p.FavouritesCount) }

// parsePosts 逐条解析，失败的记录计数后丢弃
func parsePosts(raws []gjson.Result, skips *processor.SkipCounter) []social.Post {
	out := make([]social.Post, 0, len(raws))
	for _, r := range raws {
		p, err := social.ParsePost(r)
		if err != nil {
			skips.Skip()
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Service) newSkipCounter(source string) *processor.SkipCounter {
	return processor.NewSkipCounter(metrics.SkipHook(source))
}
