package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Bucket 资产大类 + 板块
type Bucket struct {
	Category string
	Sector   string
}

const (
	Liquid   = "Liquid Assets"
	Illiquid = "Illiquid Assets"
)

var (
	BucketLiquidity   = Bucket{Liquid, "Liquidity"}
	BucketStocks      = Bucket{Liquid, "Stocks"}
	BucketBonds       = Bucket{Liquid, "Bonds"}
	BucketCommodities = Bucket{Liquid, "Commodities"}
	BucketCrypto      = Bucket{Liquid, "Crypto currencies"}

	BucketRealEstate    = Bucket{Illiquid, "Real estate"}
	BucketArt           = Bucket{Illiquid, "Art and collectibles"}
	BucketPrivateEquity = Bucket{Illiquid, "Private equity"}
	BucketDirect        = Bucket{Illiquid, "Direct holdings"}
	BucketEnergy        = Bucket{Illiquid, "Alternative energies"}
	BucketAgriculture   = Bucket{Illiquid, "Agriculture and forestry"}
)

// Buckets 输出文件里的固定顺序
var Buckets = []Bucket{
	BucketLiquidity, BucketStocks, BucketBonds, BucketCommodities, BucketCrypto,
	BucketRealEstate, BucketArt, BucketPrivateEquity, BucketDirect, BucketEnergy, BucketAgriculture,
}

// Event 一条导出记录。新闻事件填 SourceURL/ThemesMatched，行情新闻填 Ticker/Title/Source/URL
type Event struct {
	Bucket Bucket `json:"-"`

	Timestamp         string   `json:"timestamp"`
	Ticker            string   `json:"ticker,omitempty"`
	Title             string   `json:"title,omitempty"`
	Source            string   `json:"source,omitempty"`
	URL               string   `json:"url,omitempty"`
	SourceURL         string   `json:"source_url,omitempty"`
	MarketImpactScore float64  `json:"market_impact_score"`
	ThemesMatched     []string `json:"themes_matched,omitempty"`
}

// Link 记录指向的原文地址
func (e Event) Link() string {
	if e.SourceURL != "" {
		return e.SourceURL
	}
	return e.URL
}

// Archive 一次导出运行的内存结构：大类 -> 板块 -> 事件列表。非并发安全
type Archive struct {
	events  map[Bucket][]Event
	dropped int
}

func New() *Archive {
	a := &Archive{events: make(map[Bucket][]Event, len(Buckets))}
	for _, b := range Buckets {
		a.events[b] = []Event{}
	}
	return a
}

// Add 追加事件；不在固定结构里的 bucket 直接丢弃并返回 false
func (a *Archive) Add(events ...Event) bool {
	ok := true
	for _, e := range events {
		if _, known := a.events[e.Bucket]; !known {
			a.dropped++
			ok = false
			continue
		}
		a.events[e.Bucket] = append(a.events[e.Bucket], e)
	}
	return ok
}

func (a *Archive) Events(b Bucket) []Event {
	return a.events[b]
}

// All 按固定顺序返回全部事件
func (a *Archive) All() []Event {
	var out []Event
	for _, b := range Buckets {
		out = append(out, a.events[b]...)
	}
	return out
}

func (a *Archive) Len() int {
	n := 0
	for _, es := range a.events {
		n += len(es)
	}
	return n
}

func (a *Archive) Dropped() int { return a.dropped }

// MarshalJSON 按 Buckets 的顺序输出两层对象，空板块输出 []
func (a *Archive) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, b := range Buckets {
		if i == 0 || Buckets[i-1].Category != b.Category {
			if i > 0 {
				buf = append(buf, "},"...)
			}
			key, _ := json.Marshal(b.Category)
			buf = append(buf, key...)
			buf = append(buf, ":{"...)
		} else {
			buf = append(buf, ',')
		}
		key, _ := json.Marshal(b.Sector)
		val, err := json.Marshal(a.events[b])
		if err != nil {
			return nil, fmt.Errorf("marshal %s/%s: %w", b.Category, b.Sector, err)
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, "}}"...)
	return buf, nil
}

// FileName portfolio_intelligence_YYYY-MM-DD.json
func FileName(day time.Time) string {
	return "portfolio_intelligence_" + day.Format("2006-01-02") + ".json"
}

// Write 写入 dir/FileName(day)，缩进 4 个空格
func (a *Archive) Write(dir string, day time.Time, log *logrus.Entry) (string, error) {
	raw, err := a.MarshalJSON()
	if err != nil {
		return "", err
	}
	var data bytes.Buffer
	if err := json.Indent(&data, raw, "", "    "); err != nil {
		return "", err
	}
	data.WriteByte('\n')

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(day))
	if err := os.WriteFile(path, data.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	if log != nil {
		log.WithFields(logrus.Fields{
			"path":    path,
			"events":  a.Len(),
			"dropped": a.dropped,
		}).Info("archive written")
	}
	return path, nil
}
