package collector

import (
	"strings"

	"github.com/LJTian/SectorPulse/internal/archive"
	"github.com/LJTian/SectorPulse/internal/processor"
)

// AssetRule 一个资产板块在 GKG 数据里的匹配规则
type AssetRule struct {
	Name     string
	Bucket   archive.Bucket
	Themes   []string
	Keywords []string
}

// DefaultRules 股票板块由 StockNewsFetcher 负责，这里不包含
var DefaultRules = []AssetRule{
	{
		Name:     "LIQUID_LIQUIDITY",
		Bucket:   archive.BucketLiquidity,
		Themes:   []string{"ECON_CENTRALBANK", "ECON_MONETARY_POLICY", "ECON_INTEREST_RATES"},
		Keywords: []string{"cash", "money market", "liquidity", "federal reserve", "ecb"},
	},
	{
		Name:     "LIQUID_BONDS",
		Bucket:   archive.BucketBonds,
		Themes:   []string{"ECON_BOND", "ECON_DEBT", "ECON_TREASURY"},
		Keywords: []string{"treasury", "fixed income", "yield curve", "government debt"},
	},
	{
		Name:     "LIQUID_COMMODITIES",
		Bucket:   archive.BucketCommodities,
		Themes:   []string{"ECON_COMMODITY", "ECON_OIL_PRICES", "ECON_GOLD"},
		Keywords: []string{"gold", "silver", "crude oil", "natural gas", "metals", "copper"},
	},
	{
		Name:     "LIQUID_CRYPTO",
		Bucket:   archive.BucketCrypto,
		Themes:   []string{"CRYPTO", "ECON_BITCOIN"},
		Keywords: []string{"bitcoin", "ethereum", "blockchain", "defi", "web3"},
	},
	{
		Name:     "ILLIQUID_REAL_ESTATE",
		Bucket:   archive.BucketRealEstate,
		Themes:   []string{"ECON_REALESTATE", "ECON_HOUSING_PRICES", "WB_696_REAL_ESTATE"},
		Keywords: []string{"property market", "commercial real estate", "reit", "housing inventory"},
	},
	{
		// GKG 没有合适的主题，只能靠 URL 关键词
		Name:     "ILLIQUID_ART",
		Bucket:   archive.BucketArt,
		Keywords: []string{"sothebys", "christies", "auction record", "luxury goods", "fine art market", "collectibles"},
	},
	{
		Name:     "ILLIQUID_PE",
		Bucket:   archive.BucketPrivateEquity,
		Themes:   []string{"ECON_VENTURE_CAPITAL", "ECON_IPO"},
		Keywords: []string{"private equity", "venture capital", "buyout", "mergers and acquisitions", "m&a"},
	},
	{
		Name:     "ILLIQUID_DIRECT",
		Bucket:   archive.BucketDirect,
		Themes:   []string{"ECON_ENTREPRENEURSHIP"},
		Keywords: []string{"direct investment", "mezzanine financing", "growth capital", "private debt"},
	},
	{
		Name:     "ILLIQUID_ENERGY",
		Bucket:   archive.BucketEnergy,
		Themes:   []string{"ENV_ENERGY", "ENV_SOLAR", "ENV_WIND"},
		Keywords: []string{"solar power", "wind energy", "photovoltaic", "clean energy transition"},
	},
	{
		Name:     "ILLIQUID_AGRI",
		Bucket:   archive.BucketAgriculture,
		Themes:   []string{"AGRICULTURE", "ECON_FOOD_PRICES"},
		Keywords: []string{"agribusiness", "farming", "forestry", "timber", "crop yield"},
	},
}

// TrustedDomains 只保留这些来源的新闻
var TrustedDomains = []string{
	// 综合财经
	"bloomberg.com", "reuters.com", "ft.com", "wsj.com", "cnbc.com", "marketwatch.com", "economist.com",
	// 科技 / 加密 / PE
	"techcrunch.com", "coindesk.com", "cointelegraph.com", "venturebeat.com",
	// 地产 / 艺术 / 农业
	"mansionglobal.com", "architecturaldigest.com", "therealdeal.com", "artnews.com", "agweb.com", "farmjournal.com",
}

// ruleSet 预先构建好的匹配器
type ruleSet struct {
	rules    []AssetRule
	keywords []*processor.Matcher
	domains  *processor.Matcher
}

func newRuleSet(rules []AssetRule, domains []string) *ruleSet {
	rs := &ruleSet{rules: rules, domains: processor.NewMatcher(domains)}
	for _, r := range rules {
		rs.keywords = append(rs.keywords, processor.NewMatcher(r.Keywords))
	}
	return rs
}

func (rs *ruleSet) trusted(domain string) bool {
	return rs.domains.Match(domain)
}

var urlSeparators = strings.NewReplacer("-", " ", "_", " ", "/", " ", "+", " ", "%20", " ")

// match 有主题列表的规则按 GKG 主题子串匹配；没有主题列表的规则按 URL 关键词匹配，
// 此时返回命中的关键词。返回值与 rules 一一对应，nil 表示该规则未命中
func (rs *ruleSet) match(themes, url string) [][]string {
	out := make([][]string, len(rs.rules))
	urlText := urlSeparators.Replace(url)
	for i, r := range rs.rules {
		if len(r.Themes) == 0 {
			out[i] = rs.keywords[i].Matches(urlText)
			continue
		}
		var hit []string
		for _, t := range r.Themes {
			if strings.Contains(themes, t) {
				hit = append(hit, t)
			}
		}
		out[i] = hit
	}
	return out
}
