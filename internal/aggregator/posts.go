package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/LJTian/SectorPulse/internal/processor"
	"github.com/LJTian/SectorPulse/internal/sector"
	"github.com/LJTian/SectorPulse/internal/social"
)

const (
	trendingSourceName = "trending"
	// SectorTrending 从话题时间线里先取前 50 条，再与全站热门合并
	trendingHashtagTopN = 50
)

// collectHashtagPosts 依次请求板块的前 MaxHashtags 个话题，每个话题只取一页。
// 单个话题失败只记日志；全部失败且一条也没拿到时返回第一个错误。
func (s *Service) collectHashtagPosts(ctx context.Context, sec sector.Sector, pageSize int, c *processor.Collector[social.Post], skips *processor.SkipCounter) ([]string, error) {
	tags := sec.Hashtags
	if s.opts.MaxHashtags >= 0 && len(tags) > s.opts.MaxHashtags {
		tags = tags[:s.opts.MaxHashtags]
	}

	var (
		sources  []string
		firstErr error
		failed   int
	)
	for i, tag := range tags {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.Delay); err != nil {
				return sources, err
			}
		}
		sources = append(sources, "#"+tag)

		raws, err := s.src.HashtagTimeline(ctx, tag, pageSize)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			s.log.WithError(err).WithFields(logrus.Fields{"sector": sec.Key, "hashtag": tag}).Warn("hashtag timeline failed")
			continue
		}
		for _, p := range parsePosts(raws, skips) {
			c.Add(p)
		}
	}
	if failed > 0 && failed == len(tags) && c.Len() == 0 {
		return sources, firstErr
	}
	return sources, nil
}

// SectorPostsByHashtag 话题时间线里按点赞数排序的前 topN 条
func (s *Service) SectorPostsByHashtag(ctx context.Context, key string, pageSize, topN int) (PostsResult, error) {
	sec, err := s.catalog.Lookup(key)
	if err != nil {
		return PostsResult{}, err
	}

	skips := s.newSkipCounter("hashtag")
	c := processor.NewCollector(postID)
	sources, err := s.collectHashtagPosts(ctx, sec, pageSize, c, skips)
	if err != nil {
		return PostsResult{}, err
	}

	posts := processor.SortDesc(c.Items(), byFavourites, topN)
	s.log.WithFields(logrus.Fields{
		"sector":  sec.Key,
		"fetched": c.Len(),
		"skipped": skips.Count(),
	}).Info("hashtag posts collected")

	return PostsResult{
		Sector:     sec.Key,
		SectorName: sec.Name,
		Hashtags:   sec.Hashtags,
		Posts:      posts,
		Sources:    sources,
		Skipped:    skips.Count(),
	}, nil
}

// TopPosts 话题时间线里按互动量排序的前 topN 条，每个话题请求 2*topN 条（单页上限 40）
func (s *Service) TopPosts(ctx context.Context, key string, topN int) (PostsResult, error) {
	sec, err := s.catalog.Lookup(key)
	if err != nil {
		return PostsResult{}, err
	}

	skips := s.newSkipCounter("hashtag")
	c := processor.NewCollector(postID)
	sources, err := s.collectHashtagPosts(ctx, sec, topN*2, c, skips)
	if err != nil {
		return PostsResult{}, err
	}

	return PostsResult{
		Sector:     sec.Key,
		SectorName: sec.Name,
		Hashtags:   sec.Hashtags,
		Posts:      processor.SortDesc(c.Items(), byEngagement, topN),
		Sources:    sources,
		Skipped:    skips.Count(),
	}, nil
}

// SectorTrending 话题时间线 + 一次全站热门（按板块关键词过滤），合并去重后按互动量排序
func (s *Service) SectorTrending(ctx context.Context, key string, limit int) (PostsResult, error) {
	sec, err := s.catalog.Lookup(key)
	if err != nil {
		return PostsResult{}, err
	}

	hashtagRes, err := s.SectorPostsByHashtag(ctx, key, s.opts.HashtagPageSize, trendingHashtagTopN)
	if err != nil {
		if errors.Is(err, social.ErrUnauthorized) || ctx.Err() != nil {
			return PostsResult{}, err
		}
		s.log.WithError(err).WithField("sector", sec.Key).Warn("hashtag part of trending failed")
	}

	skips := s.newSkipCounter(trendingSourceName)
	c := processor.NewCollector(postID)
	for _, p := range hashtagRes.Posts {
		c.Add(p)
	}

	sources := append(append([]string{}, hashtagRes.Sources...), trendingSourceName)
	raws, err := s.src.Trending(ctx, s.opts.TrendingLimit)
	if err != nil {
		if c.Len() == 0 {
			return PostsResult{}, fmt.Errorf("trending for %s: %w", sec.Key, err)
		}
		s.log.WithError(err).WithField("sector", sec.Key).Warn("global trending failed")
	}

	m := processor.NewMatcher(sec.TrendingKeywords())
	matched := 0
	for _, p := range parsePosts(raws, skips) {
		if c.Seen(p.ID) {
			continue
		}
		if m.Match(p.Text()) {
			c.Add(p)
			matched++
		}
	}

	s.log.WithFields(logrus.Fields{
		"sector":           sec.Key,
		"hashtag_posts":    len(hashtagRes.Posts),
		"trending_matches": matched,
		"skipped":          skips.Count() + hashtagRes.Skipped,
	}).Info("sector trending collected")

	return PostsResult{
		Sector:     sec.Key,
		SectorName: sec.Name,
		Hashtags:   sec.Hashtags,
		Posts:      processor.SortDesc(c.Items(), byEngagement, limit),
		Sources:    sources,
		Skipped:    skips.Count() + hashtagRes.Skipped,
	}, nil
}
