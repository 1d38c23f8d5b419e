package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/LJTian/SectorPulse/internal/archive"
	"github.com/LJTian/SectorPulse/internal/metrics"
	"github.com/LJTian/SectorPulse/internal/processor"
)

const (
	yahooBaseURL          = "https://query2.finance.yahoo.com"
	stockSourceName       = "stock_news"
	stockMaxResponseBytes = 2 << 20
	stockClientTimeout    = 10 * time.Second
	// 行情新闻已经过编辑筛选，统一给固定分值
	stockImpactScore = 0.85
)

// DefaultTickers 默认跟踪的 ETF
var DefaultTickers = []string{"SPY", "QQQ", "GLD"}

// StockNewsFetcher 通过 Yahoo Finance 搜索接口拉取每个代码的相关新闻，全部归入 Stocks
type StockNewsFetcher struct {
	BaseURL   string
	Tickers   []string
	NewsCount int
	Client    *http.Client
	Log       *logrus.Entry
}

func (s *StockNewsFetcher) Name() string {
	return "stock_news"
}

func (s *StockNewsFetcher) Fetch(ctx context.Context) ([]archive.Event, error) {
	tickers := s.Tickers
	if len(tickers) == 0 {
		tickers = DefaultTickers
	}
	log := s.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("source", stockSourceName)

	skips := processor.NewSkipCounter(metrics.SkipHook(stockSourceName))
	var events []archive.Event
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		items, err := s.fetchTicker(ctx, ticker)
		if err != nil {
			// 单个代码失败不影响其它代码
			log.WithError(err).WithField("ticker", ticker).Warn("ticker news skipped")
			continue
		}
		for _, it := range items {
			ev, ok := stockEvent(ticker, it)
			if !ok {
				skips.Skip()
				continue
			}
			events = append(events, ev)
		}
	}

	log.WithFields(logrus.Fields{
		"tickers": len(tickers),
		"events":  len(events),
		"skipped": skips.Count(),
	}).Info("stock news done")
	return events, nil
}

func (s *StockNewsFetcher) fetchTicker(ctx context.Context, ticker string) ([]gjson.Result, error) {
	base := s.BaseURL
	if base == "" {
		base = yahooBaseURL
	}
	count := s.NewsCount
	if count <= 0 {
		count = 10
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: stockClientTimeout}
	}

	q := url.Values{}
	q.Set("q", ticker)
	q.Set("quotesCount", "0")
	q.Set("newsCount", strconv.Itoa(count))
	u := strings.TrimRight(base, "/") + "/v1/finance/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; SectorPulseBot/1.0)")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(stockSourceName, "error").Inc()
		return nil, fmt.Errorf("stock news: %w", err)
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues(stockSourceName, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stock news: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, stockMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("stock news: read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("stock news: invalid json")
	}
	news := gjson.GetBytes(body, "news")
	if !news.IsArray() {
		return nil, fmt.Errorf("stock news: response has no news array")
	}
	return news.Array(), nil
}

// stockEvent 缺少标题、链接或发布时间的条目视为无效
func stockEvent(ticker string, it gjson.Result) (archive.Event, bool) {
	title := strings.TrimSpace(it.Get("title").String())
	link := it.Get("link").String()
	ts := it.Get("providerPublishTime").Int()
	if !it.IsObject() || title == "" || link == "" || ts <= 0 {
		return archive.Event{}, false
	}
	return archive.Event{
		Bucket:            archive.BucketStocks,
		Timestamp:         time.Unix(ts, 0).UTC().Format("2006-01-02T15:04:05"),
		Ticker:            ticker,
		Title:             title,
		Source:            it.Get("publisher").String(),
		URL:               link,
		MarketImpactScore: stockImpactScore,
	}, true
}
