package collector

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"github.com/LJTian/SectorPulse/internal/archive"
	"github.com/LJTian/SectorPulse/internal/metrics"
	"github.com/LJTian/SectorPulse/internal/processor"
)

const (
	gdeltBaseURL      = "http://data.gdeltproject.org/gdeltv2"
	gdeltSourceName   = "gdelt"
	gdeltMaxBodyBytes = 512 << 20
	gdeltTimeout      = 3 * time.Minute
)

// GKG 2.1 的列号
const (
	gkgDate       = 1
	gkgSourceName = 3
	gkgDocument   = 4
	gkgThemes     = 7
	gkgTone       = 15
)

// 影响力阈值，只保留 > 1.5 的记录
var impactThreshold = decimal.NewFromFloat(1.5)

// GDELTFetcher 下载最近 DaysBack 天每天 12:00 的 GKG 文件，按主题归入资产板块
type GDELTFetcher struct {
	BaseURL  string
	DaysBack int
	Rules    []AssetRule
	Domains  []string
	Now      func() time.Time
	Log      *logrus.Entry
}

func (g *GDELTFetcher) Name() string {
	return "gdelt_gkg"
}

// DayURL 某一天 12:00 的 GKG 压缩包地址
func DayURL(base string, day time.Time) string {
	return fmt.Sprintf("%s/%s120000.gkg.csv.zip", strings.TrimRight(base, "/"), day.Format("20060102"))
}

func (g *GDELTFetcher) Fetch(ctx context.Context) ([]archive.Event, error) {
	base := g.BaseURL
	if base == "" {
		base = gdeltBaseURL
	}
	rules := g.Rules
	if rules == nil {
		rules = DefaultRules
	}
	domains := g.Domains
	if domains == nil {
		domains = TrustedDomains
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	log := g.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("source", gdeltSourceName)

	rs := newRuleSet(rules, domains)
	skips := processor.NewSkipCounter(metrics.SkipHook(gdeltSourceName))
	today := now()

	var events []archive.Event
	for x := 0; x < g.DaysBack; x++ {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		u := DayURL(base, today.AddDate(0, 0, -x))

		body, err := download(u)
		if err != nil {
			log.WithError(err).WithField("url", u).Warn("gdelt day skipped")
			continue
		}
		evs, err := parseArchive(body, rs, skips)
		if err != nil {
			log.WithError(err).WithField("url", u).Warn("gdelt day skipped")
			continue
		}
		log.WithFields(logrus.Fields{"url": u, "events": len(evs)}).Info("gdelt day processed")
		events = append(events, evs...)
	}

	log.WithFields(logrus.Fields{
		"days":    g.DaysBack,
		"events":  len(events),
		"skipped": skips.Count(),
	}).Info("gdelt stream done")
	return events, nil
}

// download 用 colly 拉取整个压缩包；非 2xx 状态视为失败
func download(u string) ([]byte, error) {
	c := colly.NewCollector(
		colly.UserAgent("SectorPulseBot/1.0"),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(gdeltTimeout)
	c.MaxBodySize = gdeltMaxBodyBytes

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		metrics.UpstreamRequests.WithLabelValues(gdeltSourceName, strconv.Itoa(r.StatusCode)).Inc()
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		status := "error"
		if r != nil && r.StatusCode != 0 {
			status = strconv.Itoa(r.StatusCode)
		}
		metrics.UpstreamRequests.WithLabelValues(gdeltSourceName, status).Inc()
	})

	if err := c.Visit(u); err != nil {
		return nil, fmt.Errorf("gdelt: download: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("gdelt: empty body")
	}
	return body, nil
}

// parseArchive 解压第一个文件，按 Latin-1 解码后解析
func parseArchive(data []byte, rs *ruleSet, skips *processor.SkipCounter) ([]archive.Event, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("gdelt: open zip: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, errors.New("gdelt: empty zip")
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("gdelt: open %s: %w", zr.File[0].Name, err)
	}
	defer f.Close()

	return parseGKG(charmap.ISO8859_1.NewDecoder().Reader(f), rs, skips)
}

// parseGKG 逐行解析 TSV。列数不足、tone 无法解析的行计数后跳过
func parseGKG(r io.Reader, rs *ruleSet, skips *processor.SkipCounter) ([]archive.Event, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	var events []archive.Event
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skips.Skip()
				continue
			}
			return events, fmt.Errorf("gdelt: read: %w", err)
		}
		if len(rec) <= gkgTone {
			skips.Skip()
			continue
		}

		domain := rec[gkgSourceName]
		if !rs.trusted(domain) {
			continue
		}
		link := rec[gkgDocument]
		if link == "" {
			link = domain
		}

		var (
			impact  float64
			checked bool
		)
		for i, hit := range rs.match(rec[gkgThemes], link) {
			if len(hit) == 0 {
				continue
			}
			if !checked {
				checked = true
				score, err := impactScore(rec[gkgTone])
				if err != nil {
					skips.Skip()
					break
				}
				if !score.GreaterThan(impactThreshold) {
					break
				}
				impact = score.Round(2).InexactFloat64()
			}
			events = append(events, archive.Event{
				Bucket:            rs.rules[i].Bucket,
				Timestamp:         rec[gkgDate],
				SourceURL:         link,
				MarketImpactScore: impact,
				ThemesMatched:     hit,
			})
		}
	}
	return events, nil
}

// impactScore |tone| * (活跃度 / 100)，tone 字段为逗号分隔，取第 1 和第 4 个值
func impactScore(tone string) (decimal.Decimal, error) {
	parts := strings.Split(tone, ",")
	if len(parts) < 4 {
		return decimal.Zero, fmt.Errorf("tone has %d fields", len(parts))
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return decimal.Zero, err
	}
	activity, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil {
		return decimal.Zero, err
	}
	if math.IsNaN(t) || math.IsInf(t, 0) || math.IsNaN(activity) || math.IsInf(activity, 0) {
		return decimal.Zero, errors.New("tone is not finite")
	}
	return decimal.NewFromFloat(math.Abs(t)).Mul(decimal.NewFromFloat(activity)).Div(decimal.NewFromInt(100)), nil
}
