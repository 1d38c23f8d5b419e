package aggregator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/LJTian/SectorPulse/internal/processor"
	"github.com/LJTian/SectorPulse/internal/social"
)

// GovernmentPosts 官方账号最近 HoursBack 小时内的帖子，按板块关键词过滤。
// 没有任何帖子命中时返回未过滤的全部帖子，IsFiltered=false。
// 单个账号失败记日志后跳过；所有账号都失败时返回第一个错误。
func (s *Service) GovernmentPosts(ctx context.Context, key string, limit int) (PostsResult, error) {
	sec, err := s.catalog.Lookup(key)
	if err != nil {
		return PostsResult{}, err
	}

	accounts := s.catalog.GovernmentAccounts()
	since := s.now().Add(-time.Duration(s.opts.HoursBack) * time.Hour)
	skips := s.newSkipCounter("government")
	c := processor.NewCollector(postID)

	var (
		sources  []string
		firstErr error
		failed   int
	)
	for i, handle := range accounts {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.Delay); err != nil {
				return PostsResult{}, err
			}
		}
		sources = append(sources, "@"+handle)

		raws, err := s.src.AccountStatuses(ctx, handle, since, s.opts.AccountPostLimit)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			s.log.WithError(err).WithFields(logrus.Fields{"sector": sec.Key, "account": handle}).Warn("account statuses failed, skipped")
			continue
		}
		for _, p := range parsePosts(raws, skips) {
			c.Add(p)
		}
	}
	if len(accounts) > 0 && failed == len(accounts) {
		return PostsResult{}, firstErr
	}

	kept, filtered := processor.FilterWithFallback(c.Items(), social.Post.Text, processor.NewMatcher(sec.Keywords()))
	entry := s.log.WithFields(logrus.Fields{
		"sector":  sec.Key,
		"fetched": c.Len(),
		"kept":    len(kept),
		"skipped": skips.Count(),
	})
	if !filtered && c.Len() > 0 {
		entry.Warn("no post matched sector keywords, returning unfiltered posts")
	} else {
		entry.Info("government posts collected")
	}

	return PostsResult{
		Sector:     sec.Key,
		SectorName: sec.Name,
		Hashtags:   sec.Hashtags,
		Posts:      processor.SortDesc(kept, byEngagement, limit),
		Sources:    sources,
		IsFiltered: filtered,
		Skipped:    skips.Count(),
	}, nil
}

// AccountsResult SectorAccounts 的返回
type AccountsResult struct {
	Sector   string           `json:"sector"`
	Accounts []social.Account `json:"accounts"`
	Sources  []string         `json:"sources"`
	Skipped  int64            `json:"-"`
}

func accountID(a social.Account) string { return a.ID }

func byFollowers(a social.Account) float64 { return float64(a.FollowersCount) }

// SectorAccounts 用板块的种子账号逐个搜索，去重后按粉丝数排序
func (s *Service) SectorAccounts(ctx context.Context, key string, limit, minFollowers int) (AccountsResult, error) {
	sec, err := s.catalog.Lookup(key)
	if err != nil {
		return AccountsResult{}, err
	}

	skips := s.newSkipCounter("accounts")
	// 只有粉丝数达标的账号计入每次搜索的 limit
	keep := func(r gjson.Result) bool {
		a, err := social.ParseAccount(r)
		if err != nil {
			skips.Skip()
			return false
		}
		return a.FollowersCount >= minFollowers
	}
	c := processor.NewCollector(accountID)
	var (
		sources  []string
		firstErr error
		failed   int
	)
	for i, q := range sec.Accounts {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.Delay); err != nil {
				return AccountsResult{}, err
			}
		}
		sources = append(sources, q)

		raws, err := s.src.SearchAccounts(ctx, q, limit, keep)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			s.log.WithError(err).WithFields(logrus.Fields{"sector": sec.Key, "query": q}).Warn("account search failed")
			continue
		}
		for _, r := range raws {
			if a, err := social.ParseAccount(r); err == nil {
				c.Add(a)
			}
		}
	}
	if len(sec.Accounts) > 0 && failed == len(sec.Accounts) {
		return AccountsResult{}, firstErr
	}

	return AccountsResult{
		Sector:   sec.Key,
		Accounts: processor.SortDesc(c.Items(), byFollowers, limit),
		Sources:  sources,
		Skipped:  skips.Count(),
	}, nil
}

// CustomQuery 全文搜索帖子，可按作者粉丝数和认证状态过滤，按互动量排序
func (s *Service) CustomQuery(ctx context.Context, query string, limit, minFollowers int, verifiedOnly bool) (PostsResult, error) {
	skips := s.newSkipCounter("search")
	// 过滤在翻页时进行，上游会继续翻页直到凑够 limit 条符合条件的帖子
	keep := func(r gjson.Result) bool {
		p, err := social.ParsePost(r)
		if err != nil {
			skips.Skip()
			return false
		}
		if p.AuthorFollowers < minFollowers {
			return false
		}
		return !verifiedOnly || p.AuthorVerified
	}
	raws, err := s.src.SearchStatuses(ctx, query, limit, keep)
	if err != nil {
		return PostsResult{}, err
	}

	c := processor.NewCollector(postID)
	for _, p := range parsePosts(raws, skips) {
		c.Add(p)
	}

	s.log.WithFields(logrus.Fields{
		"query":   query,
		"fetched": len(raws),
		"kept":    c.Len(),
		"skipped": skips.Count(),
	}).Info("custom query done")

	return PostsResult{
		Posts:   processor.SortDesc(c.Items(), byEngagement, limit),
		Sources: []string{"search:" + query},
		Skipped: skips.Count(),
	}, nil
}
